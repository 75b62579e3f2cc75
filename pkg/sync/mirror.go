package sync

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/sidkik/dirmirror/pkg/errors"
)

// Mirror makes the Replica directory a copy of the Source directory.
type Mirror struct {
	Source  string
	Replica string

	// Workers is the number of files that are fingerprinted in parallel.
	Workers int

	Mutator Mutator
	Log     logrus.FieldLogger
}

// Sync runs a single reconciliation pass. Both trees are scanned from scratch
// every time.
func (m Mirror) Sync(ctx context.Context) (Result, error) {
	source, err := TakeSnapshot(ctx, m.Source, m.Workers)
	if err != nil {
		return Result{}, errors.WithContext(err, "snapshot source")
	}

	replica, err := TakeSnapshot(ctx, m.Replica, m.Workers)
	if err != nil {
		return Result{}, errors.WithContext(err, "snapshot replica")
	}

	m.Log.WithFields(logrus.Fields{
		"sourceFiles":  len(source.Files),
		"replicaFiles": len(replica.Files),
	}).Debug("Took snapshots")

	res, err := Reconcile(source, replica, m.Mutator, m.Log)
	if err != nil {
		return res, errors.WithContext(err, "reconcile")
	}
	return res, nil
}
