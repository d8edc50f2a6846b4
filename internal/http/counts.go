package http

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fyrsmithlabs/pcdimport/internal/sandbox"
)

// registerStoreCollectors exposes sandbox entity counts as gauges, read from
// the store on every scrape.
//
// Series:
//   - pcdimport_sandbox_projects
//   - pcdimport_sandbox_datasets
//   - pcdimport_sandbox_pointclouds
//   - pcdimport_sandbox_objects
//   - pcdimport_sandbox_figures
//   - pcdimport_sandbox_related_images
//   - pcdimport_sandbox_related_image_links
func registerStoreCollectors(reg prometheus.Registerer, store *sandbox.Store) {
	gauges := []struct {
		name, help string
		value      func(sandbox.Stats) int
	}{
		{"projects", "Projects held by the sandbox.", func(s sandbox.Stats) int { return s.Projects }},
		{"datasets", "Datasets held by the sandbox.", func(s sandbox.Stats) int { return s.Datasets }},
		{"pointclouds", "Point clouds held by the sandbox.", func(s sandbox.Stats) int { return s.Pointclouds }},
		{"objects", "Annotated objects held by the sandbox.", func(s sandbox.Stats) int { return s.Objects }},
		{"figures", "Figures held by the sandbox.", func(s sandbox.Stats) int { return s.Figures }},
		{"related_images", "Distinct related images uploaded to the sandbox.", func(s sandbox.Stats) int { return s.Images }},
		{"related_image_links", "Related image links held by the sandbox.", func(s sandbox.Stats) int { return s.Links }},
	}

	for _, g := range gauges {
		value := g.value
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "pcdimport",
			Subsystem: "sandbox",
			Name:      g.name,
			Help:      g.help,
		}, func() float64 {
			return float64(value(store.Stats()))
		}))
	}
}
