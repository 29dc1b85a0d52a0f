// Package rclparams holds the ROS 2 parameter service payloads
// (rcl_interfaces GetParameters and SetParameters) and helpers that call them
// through a service binding.
package rclparams

// ParameterType mirrors rcl_interfaces/msg/ParameterType.
type ParameterType uint8

const (
	PARAMETER_NOT_SET ParameterType = iota
	PARAMETER_BOOL
	PARAMETER_INTEGER
	PARAMETER_DOUBLE
	PARAMETER_STRING
	PARAMETER_BYTE_ARRAY
	PARAMETER_BOOL_ARRAY
	PARAMETER_INTEGER_ARRAY
	PARAMETER_DOUBLE_ARRAY
	PARAMETER_STRING_ARRAY
)

// Service types of the standard parameter services.
const (
	GetParametersType = "rcl_interfaces/srv/GetParameters"
	SetParametersType = "rcl_interfaces/srv/SetParameters"
)

// ParameterValue is rcl_interfaces/msg/ParameterValue. Only the field
// selected by Type is meaningful.
type ParameterValue struct {
	Type              ParameterType `json:"type"`
	BoolValue         bool          `json:"bool_value"`
	IntegerValue      int64         `json:"integer_value"`
	DoubleValue       float64       `json:"double_value"`
	StringValue       string        `json:"string_value"`
	ByteArrayValue    []int         `json:"byte_array_value,omitempty"`
	BoolArrayValue    []bool        `json:"bool_array_value,omitempty"`
	IntegerArrayValue []int64       `json:"integer_array_value,omitempty"`
	DoubleArrayValue  []float64     `json:"double_array_value,omitempty"`
	StringArrayValue  []string      `json:"string_array_value,omitempty"`
}

// Value returns the field selected by Type, or nil when the parameter is not
// set or the type is unknown.
func (v ParameterValue) Value() any {
	switch v.Type {
	case PARAMETER_BOOL:
		return v.BoolValue
	case PARAMETER_INTEGER:
		return v.IntegerValue
	case PARAMETER_DOUBLE:
		return v.DoubleValue
	case PARAMETER_STRING:
		return v.StringValue
	case PARAMETER_BYTE_ARRAY:
		return v.ByteArrayValue
	case PARAMETER_BOOL_ARRAY:
		return v.BoolArrayValue
	case PARAMETER_INTEGER_ARRAY:
		return v.IntegerArrayValue
	case PARAMETER_DOUBLE_ARRAY:
		return v.DoubleArrayValue
	case PARAMETER_STRING_ARRAY:
		return v.StringArrayValue
	default:
		return nil
	}
}

// Parameter is rcl_interfaces/msg/Parameter.
type Parameter struct {
	Name  string         `json:"name"`
	Value ParameterValue `json:"value"`
}

type GetParametersRequest struct {
	Names []string `json:"names"`
}

// GetParametersResponse carries one value per requested name, in request order.
type GetParametersResponse struct {
	Values []ParameterValue `json:"values"`
}

type SetParametersRequest struct {
	Parameters []Parameter `json:"parameters"`
}

type SetParametersResult struct {
	Successful bool   `json:"successful"`
	Reason     string `json:"reason"`
}

// SetParametersResponse carries one result per parameter, in request order.
type SetParametersResponse struct {
	Results []SetParametersResult `json:"results"`
}

func Bool(name string, v bool) Parameter {
	return Parameter{Name: name, Value: ParameterValue{Type: PARAMETER_BOOL, BoolValue: v}}
}

func Integer(name string, v int64) Parameter {
	return Parameter{Name: name, Value: ParameterValue{Type: PARAMETER_INTEGER, IntegerValue: v}}
}

func Double(name string, v float64) Parameter {
	return Parameter{Name: name, Value: ParameterValue{Type: PARAMETER_DOUBLE, DoubleValue: v}}
}

func String(name string, v string) Parameter {
	return Parameter{Name: name, Value: ParameterValue{Type: PARAMETER_STRING, StringValue: v}}
}

func BoolArray(name string, v []bool) Parameter {
	return Parameter{Name: name, Value: ParameterValue{Type: PARAMETER_BOOL_ARRAY, BoolArrayValue: v}}
}

func IntegerArray(name string, v []int64) Parameter {
	return Parameter{Name: name, Value: ParameterValue{Type: PARAMETER_INTEGER_ARRAY, IntegerArrayValue: v}}
}

func DoubleArray(name string, v []float64) Parameter {
	return Parameter{Name: name, Value: ParameterValue{Type: PARAMETER_DOUBLE_ARRAY, DoubleArrayValue: v}}
}

func StringArray(name string, v []string) Parameter {
	return Parameter{Name: name, Value: ParameterValue{Type: PARAMETER_STRING_ARRAY, StringArrayValue: v}}
}
