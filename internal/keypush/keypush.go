// Package keypush makes sure the backup user's public key is authorized on
// every model of every configured controller.
package keypush

import (
	"context"
	"fmt"

	"github.com/juju/collections/set"

	"github.com/kebairia/jujubackup/internal/logger"
	"github.com/kebairia/jujubackup/internal/sshkey"
)

// ModelClient is the subset of the juju client the pusher needs.
type ModelClient interface {
	ListModels(ctx context.Context, controller string) ([]string, error)
	SSHKeyFingerprints(ctx context.Context, controller, model string) ([]string, error)
	AddSSHKey(ctx context.Context, controller, model, key string) error
}

// Report lists what happened to each controller:model target.
type Report struct {
	Added   []string `json:"added"`
	Present []string `json:"present"`
	Failed  []string `json:"failed"`
}

// OK reports whether every reachable model has the key.
func (r Report) OK() bool { return len(r.Failed) == 0 }

// Pusher propagates the key.
type Pusher struct {
	client ModelClient
	log    logger.Logger
}

// NewPusher returns a Pusher using client.
func NewPusher(client ModelClient, log logger.Logger) *Pusher {
	return &Pusher{client: client, log: log}
}

// Push adds publicKey to every model of controllers that does not already
// list its fingerprint. Unreachable controllers and models are logged and
// recorded in the report; only an unusable key is returned as an error.
func (p *Pusher) Push(ctx context.Context, controllers []string, publicKey string) (Report, error) {
	var report Report

	fingerprint, err := sshkey.Fingerprint(publicKey)
	if err != nil {
		return report, err
	}

	for _, controller := range set.NewStrings(controllers...).SortedValues() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		models, err := p.client.ListModels(ctx, controller)
		if err != nil {
			p.log.Error("cannot list models, skipping controller",
				"controller", controller,
				"error", err.Error(),
			)
			report.Failed = append(report.Failed, controller)
			continue
		}
		for _, model := range models {
			target := controller + ":" + model
			added, err := p.pushModel(ctx, controller, model, fingerprint, publicKey)
			switch {
			case err != nil:
				p.log.Error("cannot push ssh key, skipping model",
					"model", target,
					"error", err.Error(),
				)
				report.Failed = append(report.Failed, target)
			case added:
				p.log.Info("ssh key added", "model", target)
				report.Added = append(report.Added, target)
			default:
				p.log.Debug("ssh key already present", "model", target)
				report.Present = append(report.Present, target)
			}
		}
	}
	return report, nil
}

func (p *Pusher) pushModel(ctx context.Context, controller, model, fingerprint, key string) (bool, error) {
	fingerprints, err := p.client.SSHKeyFingerprints(ctx, controller, model)
	if err != nil {
		return false, err
	}
	if set.NewStrings(fingerprints...).Contains(fingerprint) {
		return false, nil
	}
	if err := p.client.AddSSHKey(ctx, controller, model, key); err != nil {
		return false, fmt.Errorf("add key: %w", err)
	}
	return true, nil
}
