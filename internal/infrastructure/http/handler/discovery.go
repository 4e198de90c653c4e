package handler

import (
	"errors"
	"net/http"
	"sort"

	"portico/internal/application"
	"portico/internal/domain"

	"github.com/gin-gonic/gin"
)

// DiscoveryHandler exposes the registry's view of the world: logical service
// names and their instances with the latest health classification.
type DiscoveryHandler struct {
	registry *application.Registry
	prober   *application.Prober
}

func NewDiscoveryHandler(registry *application.Registry, prober *application.Prober) *DiscoveryHandler {
	return &DiscoveryHandler{registry: registry, prober: prober}
}

type ServiceSummary struct {
	Name      string `json:"name"`
	Instances int    `json:"instances"`
	Passing   int    `json:"passing"`
}

func (h *DiscoveryHandler) ListServices(c *gin.Context) {
	services := h.registry.GetAllServices()

	summaries := make([]ServiceSummary, 0, len(services))
	for name, instances := range services {
		summary := ServiceSummary{Name: name, Instances: len(instances)}
		for _, instance := range instances {
			if instance.IsPassing() {
				summary.Passing++
			}
		}
		summaries = append(summaries, summary)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })

	c.JSON(http.StatusOK, gin.H{"services": summaries})
}

type InstanceDetail struct {
	*domain.ServiceInstance
	LastCheck *domain.HealthCheckResult `json:"last_check,omitempty"`
}

func (h *DiscoveryHandler) GetService(c *gin.Context) {
	name := c.Param("name")

	instances, err := h.registry.GetService(name)
	if errors.Is(err, domain.ErrServiceNotFound) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "service_not_found",
			"message": "no instances registered under this service name",
			"service": name,
		})
		return
	}

	details := make([]InstanceDetail, 0, len(instances))
	for _, instance := range instances {
		detail := InstanceDetail{ServiceInstance: instance}
		if result, ok := h.prober.LastResult(instance.ID); ok {
			detail.LastCheck = &result
		}
		details = append(details, detail)
	}

	c.JSON(http.StatusOK, gin.H{
		"service":   name,
		"instances": details,
	})
}
