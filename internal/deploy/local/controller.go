// Package local provides in-process implementations of the deploy
// contracts: a blue/green slot controller and an environment backed by the
// event store. They serve single-node deployments and are the reference
// against which the orchestrator is tested end to end.
package local

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kubilitics/cutover/internal/deploy"
)

// Prober checks the health of one slot. The default prober reports healthy;
// real deployments plug in an HTTP or command probe.
type Prober func(ctx context.Context, slot deploy.Slot, version string) (deploy.HealthStatus, error)

// Controller is an in-memory blue/green controller for one service.
type Controller struct {
	mu sync.Mutex

	log *zap.Logger

	activeSlot deploy.Slot
	versions   map[deploy.Slot]string

	// pendingStandby is set between DeployToStandby and Promote; health
	// checks target the standby slot while it is set.
	pendingStandby bool

	prevSlot    deploy.Slot
	prevVersion string
	hasPrev     bool

	canary   deploy.CanaryState
	settings deploy.CanarySettings

	prober Prober
}

// NewController starts with the given version live in the blue slot.
func NewController(initialVersion string, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	return &Controller{
		log:        log,
		activeSlot: deploy.SlotBlue,
		versions:   map[deploy.Slot]string{deploy.SlotBlue: initialVersion},
	}
}

// SetProber installs a health probe. Passing nil restores the default
// always-healthy probe.
func (c *Controller) SetProber(p Prober) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prober = p
}

func (c *Controller) DeploymentState(context.Context) (deploy.DeploymentState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return deploy.DeploymentState{
		ActiveSlot:     c.activeSlot,
		ActiveVersion:  c.versions[c.activeSlot],
		StandbyVersion: c.versions[c.activeSlot.Other()],
	}, nil
}

func (c *Controller) DeployToStandby(_ context.Context, version string) error {
	if version == "" {
		return fmt.Errorf("standby version must not be empty")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	standby := c.activeSlot.Other()
	c.versions[standby] = version
	c.pendingStandby = true
	// A fresh standby begins a new cycle: a rollback before the next
	// promotion discards the standby and must not reach back to the
	// previous cycle's promotion.
	c.hasPrev = false
	c.log.Info("deployed to standby",
		zap.String("slot", string(standby)),
		zap.String("version", version),
	)
	return nil
}

// HealthCheck probes the slot currently under evaluation: the standby slot
// while a deployment or canary is in flight, the active slot otherwise. A
// healthy probe during an active canary bumps the consecutive counter; an
// unhealthy one resets it.
func (c *Controller) HealthCheck(ctx context.Context) (deploy.HealthStatus, error) {
	c.mu.Lock()
	slot := c.activeSlot
	if c.pendingStandby || c.canary.Active {
		slot = c.activeSlot.Other()
	}
	version := c.versions[slot]
	prober := c.prober
	c.mu.Unlock()

	status := deploy.HealthStatus{Healthy: true}
	if prober != nil {
		var err error
		status, err = prober(ctx, slot, version)
		if err != nil {
			return deploy.HealthStatus{}, fmt.Errorf("probe slot %s: %w", slot, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.canary.Active {
		if status.Healthy {
			c.canary.ConsecutiveHealthChecks++
		} else {
			c.canary.ConsecutiveHealthChecks = 0
		}
	}
	return status, nil
}

func (c *Controller) Promote(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	standby := c.activeSlot.Other()
	if c.versions[standby] == "" {
		return fmt.Errorf("no standby version to promote")
	}
	c.prevSlot = c.activeSlot
	c.prevVersion = c.versions[c.activeSlot]
	c.hasPrev = true
	c.activeSlot = standby
	c.pendingStandby = false
	c.canary = deploy.CanaryState{}
	c.log.Info("promoted standby to active",
		zap.String("slot", string(c.activeSlot)),
		zap.String("version", c.versions[c.activeSlot]),
	)
	return nil
}

func (c *Controller) Rollback(_ context.Context, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canary = deploy.CanaryState{}
	c.pendingStandby = false
	if !c.hasPrev {
		// Nothing was promoted this cycle; discarding the standby is the
		// whole rollback.
		c.log.Info("rollback before promotion, standby discarded", zap.String("reason", reason))
		return nil
	}
	c.activeSlot = c.prevSlot
	c.versions[c.prevSlot] = c.prevVersion
	c.hasPrev = false
	c.log.Warn("rolled back to previous version",
		zap.String("slot", string(c.activeSlot)),
		zap.String("version", c.versions[c.activeSlot]),
		zap.String("reason", reason),
	)
	return nil
}

func (c *Controller) StartCanary(_ context.Context, settings deploy.CanarySettings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pendingStandby {
		return fmt.Errorf("no standby deployment to canary")
	}
	if c.canary.Active {
		return fmt.Errorf("canary already active at %d%%", c.canary.Percentage)
	}
	if settings.InitialPercentage > settings.MaxPercentage || settings.MaxPercentage > 100 {
		return fmt.Errorf("invalid canary settings: initial=%d max=%d",
			settings.InitialPercentage, settings.MaxPercentage)
	}
	c.settings = settings
	c.canary = deploy.CanaryState{Active: true, Percentage: settings.InitialPercentage}
	c.log.Info("canary started", zap.Uint("percentage", settings.InitialPercentage))
	return nil
}

func (c *Controller) AdvanceCanary(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.canary.Active {
		return fmt.Errorf("no active canary to advance")
	}
	next := c.canary.Percentage + c.settings.StepPercentage
	if next > c.settings.MaxPercentage {
		next = c.settings.MaxPercentage
	}
	c.canary.Percentage = next
	c.log.Info("canary advanced", zap.Uint("percentage", next))
	return nil
}

func (c *Controller) AbortCanary(_ context.Context, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.canary.Active {
		return nil
	}
	c.canary = deploy.CanaryState{}
	c.log.Warn("canary aborted", zap.String("reason", reason))
	return nil
}

func (c *Controller) CanaryState(context.Context) (deploy.CanaryState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canary, nil
}

// CanaryReadyForPromotion reports true once the canary holds its configured
// ceiling.
func (c *Controller) CanaryReadyForPromotion(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canary.Active && c.canary.Percentage >= c.settings.MaxPercentage, nil
}
