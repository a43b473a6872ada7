package main

import (
	"context"
	"time"

	"github.com/itskum47/PulseForge/control_plane/store"
)

// DashboardService provides an abstraction layer for dashboard data retrieval.
// It decouples the API from direct store access and aggregates fleet, task
// and connection state into the single payload the landing page polls.
type DashboardService struct {
	store store.Store
	hub   *Hub
}

// FleetSummary is the GET /api/dashboard response.
type FleetSummary struct {
	DevicesTotal   int `json:"devices_total"`
	DevicesOnline  int `json:"devices_online"`
	DevicesOffline int `json:"devices_offline"`

	AgentsConnected int `json:"agents_connected"`
	DashboardsOpen  int `json:"dashboards_open"`

	TasksPending    int `json:"tasks_pending"`
	TasksDispatched int `json:"tasks_dispatched"`
	TasksDone       int `json:"tasks_done"`

	ActiveAlertRules int `json:"active_alert_rules"`

	RecentResults []*store.TaskResult `json:"recent_results"`

	Timestamp int64 `json:"timestamp"`
}

// NewDashboardService creates a new DashboardService.
func NewDashboardService(st store.Store, hub *Hub) *DashboardService {
	return &DashboardService{store: st, hub: hub}
}

// FleetSummary collects and aggregates the fleet-wide counters.
func (s *DashboardService) FleetSummary(ctx context.Context) (FleetSummary, error) {
	online, err := s.store.CountDevicesByStatus(ctx, "online")
	if err != nil {
		return FleetSummary{}, err
	}
	offline, err := s.store.CountDevicesByStatus(ctx, "offline")
	if err != nil {
		return FleetSummary{}, err
	}

	pending, err := s.store.CountTasksByStatus(ctx, "pending")
	if err != nil {
		return FleetSummary{}, err
	}
	dispatched, err := s.store.CountTasksByStatus(ctx, "dispatched")
	if err != nil {
		return FleetSummary{}, err
	}
	done, err := s.store.CountTasksByStatus(ctx, "done")
	if err != nil {
		return FleetSummary{}, err
	}

	rules, err := s.store.ListAlertRules(ctx, true)
	if err != nil {
		return FleetSummary{}, err
	}

	recent, err := s.store.ListTaskResults(ctx, "", 10)
	if err != nil {
		return FleetSummary{}, err
	}

	return FleetSummary{
		DevicesTotal:   online + offline,
		DevicesOnline:  online,
		DevicesOffline: offline,

		AgentsConnected: s.hub.AgentCount(),
		DashboardsOpen:  s.hub.DashboardCount(),

		TasksPending:    pending,
		TasksDispatched: dispatched,
		TasksDone:       done,

		ActiveAlertRules: len(rules),
		RecentResults:    recent,
		Timestamp:        time.Now().Unix(),
	}, nil
}
