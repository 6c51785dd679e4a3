package mdib

import "fmt"

// NodeType is the descriptor kind tag. States carry the NodeType of the
// descriptor they belong to.
type NodeType string

const (
	NodeMds           NodeType = "MdsDescriptor"
	NodeVmd           NodeType = "VmdDescriptor"
	NodeChannel       NodeType = "ChannelDescriptor"
	NodeBattery       NodeType = "BatteryDescriptor"
	NodeClock         NodeType = "ClockDescriptor"
	NodeSystemContext NodeType = "SystemContextDescriptor"
	NodeSco           NodeType = "ScoDescriptor"

	NodeNumericMetric                 NodeType = "NumericMetricDescriptor"
	NodeStringMetric                  NodeType = "StringMetricDescriptor"
	NodeEnumStringMetric              NodeType = "EnumStringMetricDescriptor"
	NodeRealTimeSampleArrayMetric     NodeType = "RealTimeSampleArrayMetricDescriptor"
	NodeDistributionSampleArrayMetric NodeType = "DistributionSampleArrayMetricDescriptor"

	NodeAlertSystem         NodeType = "AlertSystemDescriptor"
	NodeAlertCondition      NodeType = "AlertConditionDescriptor"
	NodeLimitAlertCondition NodeType = "LimitAlertConditionDescriptor"
	NodeAlertSignal         NodeType = "AlertSignalDescriptor"

	NodeSetValueOperation        NodeType = "SetValueOperationDescriptor"
	NodeSetStringOperation       NodeType = "SetStringOperationDescriptor"
	NodeActivateOperation        NodeType = "ActivateOperationDescriptor"
	NodeSetContextStateOperation NodeType = "SetContextStateOperationDescriptor"
	NodeSetAlertStateOperation   NodeType = "SetAlertStateOperationDescriptor"

	NodePatientContext  NodeType = "PatientContextDescriptor"
	NodeLocationContext NodeType = "LocationContextDescriptor"
	NodeEnsembleContext NodeType = "EnsembleContextDescriptor"
	NodeWorkflowContext NodeType = "WorkflowContextDescriptor"
	NodeOperatorContext NodeType = "OperatorContextDescriptor"
	NodeMeansContext    NodeType = "MeansContextDescriptor"
)

// Category groups node types by the report that carries their state changes.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryComponent
	CategoryMetric
	CategoryRealTime
	CategoryAlert
	CategoryOperational
	CategoryContext
)

// Categories lists every known category in report order.
var Categories = []Category{
	CategoryMetric,
	CategoryAlert,
	CategoryComponent,
	CategoryContext,
	CategoryOperational,
	CategoryRealTime,
}

func (c Category) String() string {
	switch c {
	case CategoryComponent:
		return "component"
	case CategoryMetric:
		return "metric"
	case CategoryRealTime:
		return "realtime"
	case CategoryAlert:
		return "alert"
	case CategoryOperational:
		return "operational"
	case CategoryContext:
		return "context"
	default:
		return fmt.Sprintf("Category(%d)", int(c))
	}
}

var nodeCategories = map[NodeType]Category{
	NodeMds:           CategoryComponent,
	NodeVmd:           CategoryComponent,
	NodeChannel:       CategoryComponent,
	NodeBattery:       CategoryComponent,
	NodeClock:         CategoryComponent,
	NodeSystemContext: CategoryComponent,
	NodeSco:           CategoryComponent,

	NodeNumericMetric:                 CategoryMetric,
	NodeStringMetric:                  CategoryMetric,
	NodeEnumStringMetric:              CategoryMetric,
	NodeDistributionSampleArrayMetric: CategoryMetric,
	NodeRealTimeSampleArrayMetric:     CategoryRealTime,

	NodeAlertSystem:         CategoryAlert,
	NodeAlertCondition:      CategoryAlert,
	NodeLimitAlertCondition: CategoryAlert,
	NodeAlertSignal:         CategoryAlert,

	NodeSetValueOperation:        CategoryOperational,
	NodeSetStringOperation:       CategoryOperational,
	NodeActivateOperation:        CategoryOperational,
	NodeSetContextStateOperation: CategoryOperational,
	NodeSetAlertStateOperation:   CategoryOperational,

	NodePatientContext:  CategoryContext,
	NodeLocationContext: CategoryContext,
	NodeEnsembleContext: CategoryContext,
	NodeWorkflowContext: CategoryContext,
	NodeOperatorContext: CategoryContext,
	NodeMeansContext:    CategoryContext,
}

// Category returns the report category of the node type.
func (t NodeType) Category() Category {
	return nodeCategories[t]
}

// Known reports whether t is one of the defined node types.
func (t NodeType) Known() bool {
	_, ok := nodeCategories[t]
	return ok
}

// IsMultiState reports whether descriptors of this type own any number of
// states keyed by their own handle (context descriptors).
func (t NodeType) IsMultiState() bool {
	return t.Category() == CategoryContext
}

// IsRealTime reports whether t carries waveform sample arrays.
func (t NodeType) IsRealTime() bool {
	return t.Category() == CategoryRealTime
}
