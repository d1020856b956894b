// Package leader provides Kubernetes Lease-based leader election so that
// only one replica runs the expired-auction sweep. Every replica serves
// bids regardless of leadership.
package leader

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/leaderelection"
	"k8s.io/client-go/tools/leaderelection/resourcelock"

	"github.com/jensholdgaard/auctiond/internal/config"
)

// identity names this contender. The pod name (or hostname) is suffixed
// with a random id so a restarted process never inherits its predecessor's
// lease.
func identity() string {
	base := os.Getenv("POD_NAME")
	if base == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		base = host
	}
	return base + "_" + uuid.NewString()[:8]
}

// ClientFactory creates a Kubernetes clientset.
// Extracted as a variable for testing.
var ClientFactory = func() (kubernetes.Interface, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("building in-cluster config: %w", err)
	}
	client, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating kubernetes client: %w", err)
	}
	return client, nil
}

// Run takes part in one election term. onStartedLeading is invoked when
// this instance becomes the leader and should block until its ctx is done.
// onStoppedLeading runs when the term ends. Run returns when ctx is
// cancelled or leadership is lost.
func Run(ctx context.Context, cfg config.LeaderElectionConfig, logger *slog.Logger, onStartedLeading func(ctx context.Context), onStoppedLeading func()) error {
	client, err := ClientFactory()
	if err != nil {
		return fmt.Errorf("leader election client: %w", err)
	}
	return term(ctx, cfg, client, identity(), logger, onStartedLeading, onStoppedLeading)
}

// Campaign runs work whenever this instance leads. After a lost lease it
// waits one retry period and stands again, under the same identity. It
// returns nil once ctx is cancelled.
func Campaign(ctx context.Context, cfg config.LeaderElectionConfig, logger *slog.Logger, work func(ctx context.Context)) error {
	client, err := ClientFactory()
	if err != nil {
		return fmt.Errorf("leader election client: %w", err)
	}
	id := identity()

	for {
		if err := term(ctx, cfg, client, id, logger, work, func() {}); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(cfg.RetryPeriod):
		}
		logger.WarnContext(ctx, "leadership term ended, rejoining election",
			slog.String("identity", id),
			slog.String("lease", cfg.LeaseName),
		)
	}
}

func term(ctx context.Context, cfg config.LeaderElectionConfig, client kubernetes.Interface, id string, logger *slog.Logger, onStartedLeading func(ctx context.Context), onStoppedLeading func()) error {
	logger.InfoContext(ctx, "joining leader election",
		slog.String("identity", id),
		slog.String("lease", cfg.LeaseName),
		slog.String("namespace", cfg.LeaseNamespace),
	)

	elector, err := leaderelection.NewLeaderElector(leaderelection.LeaderElectionConfig{
		Lock: &resourcelock.LeaseLock{
			LeaseMeta: metav1.ObjectMeta{
				Name:      cfg.LeaseName,
				Namespace: cfg.LeaseNamespace,
			},
			Client:     client.CoordinationV1(),
			LockConfig: resourcelock.ResourceLockConfig{Identity: id},
		},
		LeaseDuration:   cfg.LeaseDuration,
		RenewDeadline:   cfg.RenewDeadline,
		RetryPeriod:     cfg.RetryPeriod,
		ReleaseOnCancel: true,
		Name:            cfg.LeaseName,
		Callbacks: leaderelection.LeaderCallbacks{
			OnStartedLeading: func(ctx context.Context) {
				logger.InfoContext(ctx, "acquired leadership", slog.String("identity", id))
				onStartedLeading(ctx)
			},
			OnStoppedLeading: func() {
				logger.Info("released leadership", slog.String("identity", id))
				onStoppedLeading()
			},
			OnNewLeader: func(newID string) {
				if newID != id {
					logger.Info("following leader", slog.String("leader", newID))
				}
			},
		},
	})
	if err != nil {
		return fmt.Errorf("configuring leader election: %w", err)
	}

	elector.Run(ctx)
	return nil
}
