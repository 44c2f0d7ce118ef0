// Package fence implements the journal's writer lease: detecting, via a
// raft leadership election, when this node has lost its exclusive right
// to append to the front journal. Only leadership changes matter here;
// no application state is replicated through raft.
package fence

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/hashicorp/raft"

	"github.com/cephmds/mdjournal/pkg/config"
	"github.com/cephmds/mdjournal/pkg/metrics"
	"github.com/cephmds/mdjournal/util"
)

// noopFSM satisfies raft.FSM without replicating any application state;
// the lease only cares about who is leader, never about committed log
// entries.
type noopFSM struct{}

func (noopFSM) Apply(*raft.Log) interface{} { return nil }
func (noopFSM) Snapshot() (raft.FSMSnapshot, error) {
	return noopSnapshot{}, nil
}
func (noopFSM) Restore(rc io.ReadCloser) error {
	return nil
}

type noopSnapshot struct{}

func (noopSnapshot) Persist(sink raft.SnapshotSink) error { return sink.Close() }
func (noopSnapshot) Release()                             {}

// RaftHandle is the subset of *raft.Raft the lease depends on, so a fake
// can stand in for tests.
type RaftHandle interface {
	Leader() raft.ServerAddress
	State() raft.RaftState
	BootstrapCluster(raft.Configuration) raft.Future
	Shutdown() raft.Future
}

// WriterLease tracks whether this node currently holds the single-writer
// lease. Raft leadership is the lease, and losing it is what the journal
// subsystem treats as Fenced.
type WriterLease struct {
	r        RaftHandle
	nodeID   string
	isLeader atomic.Bool
	leaderCh chan bool

	fencedHandler func()
}

// New constructs a WriterLease bound to a raft instance configured from
// cfg. cfg.RaftBindAddr is this node's own address; cfg.RaftPeers names the
// initial cluster membership when cfg.RaftBootstrap is set.
func New(cfg *config.Config, nodeID string) (*WriterLease, error) {
	watch := cfg.LeaseWatchEvery
	if watch <= 0 {
		watch = 500 * time.Millisecond
	}

	raftCfg := raft.DefaultConfig()
	raftCfg.LocalID = raft.ServerID(nodeID)
	raftCfg.HeartbeatTimeout = watch
	raftCfg.ElectionTimeout = 3 * watch
	raftCfg.CommitTimeout = 100 * time.Millisecond

	notifyCh := make(chan bool, 10)
	raftCfg.NotifyCh = notifyCh

	dataDir := cfg.RaftDataDir
	if dataDir == "" {
		dataDir = filepath.Join(cfg.JournalDir, "raft")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("fence: mkdir raft data dir: %w", err)
	}

	logStore := raft.NewInmemStore()
	stableStore := raft.NewInmemStore()

	snapshots, err := raft.NewFileSnapshotStore(dataDir, 3, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("fence: snapshot store: %w", err)
	}

	bindAddr := cfg.RaftBindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1:0"
	}
	advertiseAddr, err := net.ResolveTCPAddr("tcp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("fence: resolve bind addr %s: %w", bindAddr, err)
	}
	transport, err := raft.NewTCPTransport(bindAddr, advertiseAddr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("fence: tcp transport: %w", err)
	}

	r, err := raft.NewRaft(raftCfg, noopFSM{}, logStore, stableStore, snapshots, transport)
	if err != nil {
		return nil, fmt.Errorf("fence: new raft: %w", err)
	}

	lease := newWithHandle(r, nodeID)

	if cfg.RaftBootstrap {
		servers := []raft.Server{{ID: raftCfg.LocalID, Address: transport.LocalAddr()}}
		for _, peer := range cfg.RaftPeers {
			if peer == "" {
				continue
			}
			servers = append(servers, raft.Server{ID: raft.ServerID(peer), Address: raft.ServerAddress(peer)})
		}
		r.BootstrapCluster(raft.Configuration{Servers: servers})
	}

	go lease.observeLeadership(notifyCh)
	return lease, nil
}

// newWithHandle builds a WriterLease around an already-constructed raft
// handle, split out so tests can substitute a fake RaftHandle.
func newWithHandle(r RaftHandle, nodeID string) *WriterLease {
	return &WriterLease{
		r:        r,
		nodeID:   nodeID,
		leaderCh: make(chan bool, 10),
	}
}

func (l *WriterLease) observeLeadership(notifyCh <-chan bool) {
	for leading := range notifyCh {
		wasLeader := l.isLeader.Swap(leading)
		metrics.LeaderElectionTotal.Inc()

		if wasLeader && !leading {
			metrics.WriterFenced.Inc()
			util.Warn("fence: writer lease revoked for node %s", l.nodeID)
			if h := l.fencedHandler; h != nil {
				h()
			}
		}

		select {
		case l.leaderCh <- leading:
		default:
			util.Warn("fence: leadership notification dropped, leaderCh full")
		}
	}
}

// IsWriter reports whether this node currently holds the lease.
func (l *WriterLease) IsWriter() bool { return l.isLeader.Load() }

// LeaderCh streams the leadership transitions observed; draining is left
// to the caller. A transition arriving while its 10-slot buffer is full is
// dropped with a warning.
func (l *WriterLease) LeaderCh() <-chan bool { return l.leaderCh }

// OnFenced registers a callback invoked when this node transitions from
// holding the lease to not holding it, the trigger for the respawn path.
func (l *WriterLease) OnFenced(cb func()) { l.fencedHandler = cb }

// Shutdown releases the underlying raft instance.
func (l *WriterLease) Shutdown() error {
	return l.r.Shutdown().Error()
}
