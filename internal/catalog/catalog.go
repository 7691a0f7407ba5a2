// Package catalog resolves and validates workflow catalogs fetched from the
// CRM backend, and classifies workflow status codes into stages.
package catalog

import (
	"fmt"

	"github.com/fensterwerk/orderdesk/model"
)

// Catalog is a validated, immutable workflow catalog for one order type.
// Lookups are index-backed and safe for concurrent use.
type Catalog struct {
	stages    []model.WorkflowStage
	flattened []model.WorkflowStatus
	byStatus  map[string]model.WorkflowStatus
	stageOf   map[string]model.WorkflowStage
	position  map[string]int
}

// New validates the raw stages from the backend and builds a Catalog.
// A missing or empty stage list, a stage without an id, a stage with no
// status array, or a status id appearing twice makes the catalog unusable
// and returns a CATALOG_INVALID error.
func New(stages []model.WorkflowStage) (*Catalog, error) {
	if len(stages) == 0 {
		return nil, model.NewCatalogInvalidError("workflow catalog has no stages")
	}

	c := &Catalog{
		stages:   stages,
		byStatus: make(map[string]model.WorkflowStatus),
		stageOf:  make(map[string]model.WorkflowStage),
		position: make(map[string]int),
	}

	for _, stage := range stages {
		if stage.ID == "" {
			return nil, model.NewCatalogInvalidError("workflow catalog contains a stage without an id")
		}
		if stage.Statuses == nil {
			return nil, model.NewCatalogInvalidError(
				fmt.Sprintf("stage %s has no status list", stage.ID))
		}
		for _, status := range stage.Statuses {
			if status.ID == "" {
				return nil, model.NewCatalogInvalidError(
					fmt.Sprintf("stage %s contains a status without an id", stage.ID))
			}
			if _, dup := c.byStatus[status.ID]; dup {
				return nil, model.NewCatalogInvalidError(
					fmt.Sprintf("status %s appears in more than one stage", status.ID))
			}
			c.byStatus[status.ID] = status
			c.stageOf[status.ID] = stage
			c.position[status.ID] = len(c.flattened)
			c.flattened = append(c.flattened, status)
		}
	}

	return c, nil
}

// StagesInOrder returns the stages in catalog order.
func (c *Catalog) StagesInOrder() []model.WorkflowStage {
	return c.stages
}

// Flattened returns every status in catalog order, stages concatenated.
func (c *Catalog) Flattened() []model.WorkflowStatus {
	return c.flattened
}

// StatusByID looks up a status by id.
func (c *Catalog) StatusByID(id string) (model.WorkflowStatus, bool) {
	s, ok := c.byStatus[id]
	return s, ok
}

// StageContaining returns the stage a status belongs to.
func (c *Catalog) StageContaining(statusID string) (model.WorkflowStage, bool) {
	s, ok := c.stageOf[statusID]
	return s, ok
}

// StageByID looks up a stage by id.
func (c *Catalog) StageByID(id string) (model.WorkflowStage, bool) {
	for _, stage := range c.stages {
		if stage.ID == id {
			return stage, true
		}
	}
	return model.WorkflowStage{}, false
}

// Position returns the index of a status in the flattened sequence, or -1
// when the status is not part of the catalog.
func (c *Catalog) Position(statusID string) int {
	if p, ok := c.position[statusID]; ok {
		return p
	}
	return -1
}

// FirstStage returns the first stage of the catalog.
func (c *Catalog) FirstStage() model.WorkflowStage {
	return c.stages[0]
}
