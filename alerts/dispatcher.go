// Package alerts turns anomaly, data-quality and report-failure events
// into Alert records, deduplicating against open alerts and fanning out
// notifications.
package alerts

import (
	"context"
	"fmt"

	"wellpipe/metrics"
	"wellpipe/models"

	"github.com/apex/log"
)

// Draft is a request to raise an alert
type Draft struct {
	Type        models.AlertType
	Severity    models.AlertSeverity
	Title       string
	Description string
	WellID      *int
	FieldID     *int
	Value       *float64
	Threshold   *float64
	MetricName  string
}

// Store is the alert persistence boundary
type Store interface {
	InsertAlert(ctx context.Context, a *models.Alert) error
	GetUnresolvedAlertByKey(ctx context.Context, alertType models.AlertType, wellID *int, metricName string) (*models.Alert, error)
	TouchAlert(ctx context.Context, id int, value *float64, severity models.AlertSeverity) (*models.Alert, error)
	ResolveAlert(ctx context.Context, id int, resolvedBy, notes string) (*models.Alert, error)
	GetAlert(ctx context.Context, id int) (*models.Alert, error)
	MarkNotificationSent(ctx context.Context, id int) error
}

// Publisher broadcasts alert events to the message broker
type Publisher interface {
	Publish(message interface{}) error
}

// Notifier delivers out-of-band notifications for critical alerts
type Notifier interface {
	NotifyAlert(ctx context.Context, a *models.Alert) error
}

// Dispatcher raises and resolves alerts. Publisher and notifier are
// optional; the dispatcher degrades to store-only when they are absent.
type Dispatcher struct {
	store     Store
	publisher Publisher
	notifier  Notifier
}

// NewDispatcher creates an alert dispatcher
func NewDispatcher(store Store, publisher Publisher, notifier Notifier) *Dispatcher {
	return &Dispatcher{
		store:     store,
		publisher: publisher,
		notifier:  notifier,
	}
}

// Raise creates an alert from a draft. If an unresolved alert with the same
// (type, well_id, metric_name) key already exists, its value and severity
// are refreshed instead of creating a duplicate row.
func (d *Dispatcher) Raise(ctx context.Context, draft Draft) (*models.Alert, error) {
	existing, err := d.store.GetUnresolvedAlertByKey(ctx, draft.Type, draft.WellID, draft.MetricName)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing alert: %w", err)
	}
	if existing != nil {
		updated, err := d.store.TouchAlert(ctx, existing.ID, draft.Value, draft.Severity)
		if err != nil {
			return nil, fmt.Errorf("failed to refresh alert %d: %w", existing.ID, err)
		}
		log.Infof("refreshed open alert %d (%s/%s)", existing.ID, draft.Type, draft.MetricName)
		return updated, nil
	}

	alert := &models.Alert{
		Type:        draft.Type,
		Severity:    draft.Severity,
		Title:       draft.Title,
		Description: draft.Description,
		WellID:      draft.WellID,
		FieldID:     draft.FieldID,
		Value:       draft.Value,
		Threshold:   draft.Threshold,
		MetricName:  draft.MetricName,
	}
	if err := d.store.InsertAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to insert alert: %w", err)
	}
	metrics.AlertsRaisedTotal.WithLabelValues(string(draft.Type), string(draft.Severity)).Inc()
	log.Infof("raised %s alert %d: %s", draft.Severity, alert.ID, draft.Title)

	d.fanOut(ctx, alert)
	return alert, nil
}

// fanOut broadcasts the alert and, for critical severity, sends the
// out-of-band notification. Side-channel failures are logged, never fatal.
func (d *Dispatcher) fanOut(ctx context.Context, alert *models.Alert) {
	if d.publisher != nil {
		if err := d.publisher.Publish(alert); err != nil {
			log.Warnf("failed to publish alert %d: %v", alert.ID, err)
		}
	}

	if d.notifier != nil && alert.Severity == models.SeverityCritical {
		if err := d.notifier.NotifyAlert(ctx, alert); err != nil {
			log.Warnf("failed to notify for alert %d: %v", alert.ID, err)
			return
		}
		if err := d.store.MarkNotificationSent(ctx, alert.ID); err != nil {
			log.Warnf("failed to record notification for alert %d: %v", alert.ID, err)
		}
	}
}

// Resolve marks an alert resolved. Resolution is one-way; resolving an
// already-resolved alert is a no-op returning the existing state.
func (d *Dispatcher) Resolve(ctx context.Context, id int, resolvedBy, notes string) (*models.Alert, error) {
	alert, err := d.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.IsResolved {
		return alert, nil
	}

	resolved, err := d.store.ResolveAlert(ctx, id, resolvedBy, notes)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve alert %d: %w", id, err)
	}
	log.Infof("alert %d resolved by %s", id, resolvedBy)
	return resolved, nil
}
