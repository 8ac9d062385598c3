// Package node wires one participant's roles together: the durable
// log, the acceptor and learner over it, the direct-dispatch self peer,
// and the election service that orchestrates them against the rest of
// the cluster.
package node

import (
	"context"

	pkgerrors "github.com/pkg/errors"

	"github.com/paxosdb/leaderelection/internal/election"
	"github.com/paxosdb/leaderelection/internal/events"
	"github.com/paxosdb/leaderelection/internal/paxos"
	"github.com/paxosdb/leaderelection/internal/storage"
	"github.com/paxosdb/leaderelection/internal/transport"
)

// Node is one cluster participant playing all three Paxos roles plus
// the election orchestrator. Construction is two-step: New builds the
// local roles, ConnectPeers wires the election service once the peer
// set is known. The split exists because peers of an in-process cluster
// can only be linked after every node's local half exists.
type Node struct {
	uuid     string
	log      storage.Log
	acceptor *paxos.Acceptor
	learner  *paxos.Learner
	self     *transport.Local
	election *election.Service
}

// New builds a node's local roles over log, replaying the log into the
// learner's greatest-learned cache.
func New(ctx context.Context, uuid string, log storage.Log) (*Node, error) {
	learner, err := paxos.NewLearner(ctx, log)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "recovering learner state")
	}
	acceptor := paxos.NewAcceptor(log)
	return &Node{
		uuid:     uuid,
		log:      log,
		acceptor: acceptor,
		learner:  learner,
		self:     &transport.Local{UUID: uuid, Acceptor: acceptor, Learner: learner},
	}, nil
}

// ConnectPeers finishes construction by wiring the election service
// over the other cluster members. others must not include this node;
// the self peer is added internally.
func (n *Node) ConnectPeers(cfg election.Config, others []transport.Peer, rec events.Recorder) error {
	svc, err := election.New(cfg, n.learner, n.self, others, rec)
	if err != nil {
		return err
	}
	n.election = svc
	return nil
}

// UUID returns this node's stable identity.
func (n *Node) UUID() string { return n.uuid }

// Self returns the direct-dispatch peer other in-process nodes use to
// reach this one.
func (n *Node) Self() *transport.Local { return n.self }

// Learner exposes the local learner for catch-up inspection.
func (n *Node) Learner() *paxos.Learner { return n.learner }

// Election returns the wired election service; nil before
// ConnectPeers.
func (n *Node) Election() *election.Service { return n.election }
