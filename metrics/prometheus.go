package metrics

import "github.com/docker/go-metrics"

const (
	// NamespacePrefix is the namespace of prometheus metrics
	NamespacePrefix = "collector"
)

var (
	// PipelineNamespace is the prometheus namespace of archive pipeline
	// related operations
	PipelineNamespace = metrics.NewNamespace(NamespacePrefix, "pipeline", nil)

	// NotificationsNamespace is the prometheus namespace of event and
	// publish related operations
	NotificationsNamespace = metrics.NewNamespace(NamespacePrefix, "notifications", nil)
)
