package consistent

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"go.uber.org/zap"

	"github.com/verity-log/verity/internal/entry"
)

const (
	mappingNode     = "sequence_mapping"
	unsequencedNode = "unsequenced"
	nodesNode       = "nodes"
)

// ZK is a Store backed by a ZooKeeper ensemble. The znode layout under the
// configured root is:
//
//	<root>/sequence_mapping     JSON mapping; znode version is the revision
//	<root>/unsequenced/<hash>   one JSON entry per pending submission
//	<root>/nodes/<node-id>      each node's published ClusterNodeState
//
// The mapping lives in a single znode, so ZooKeeper's versioned Set gives the
// conditional-update semantics directly: a Set at a stale version fails with
// ErrBadVersion, which surfaces as ErrConflict. Sequence numbers are derived
// from the mapping itself, so the same conditional write guards allocation.
type ZK struct {
	conn     *zk.Conn
	rootPath string
	nodeID   string
	logger   *zap.Logger
}

// NewZK creates a ZooKeeper-backed store rooted at rootPath.
// servers: ["zk1:2181", "zk2:2181"].
func NewZK(servers []string, rootPath, nodeID string, logger *zap.Logger) (*ZK, error) {
	conn, _, err := zk.Connect(servers, 5*time.Second, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("zk connect: %w", err)
	}
	s := &ZK{
		conn:     conn,
		rootPath: strings.TrimSuffix(rootPath, "/"),
		nodeID:   nodeID,
		logger:   logger,
	}
	if err := s.ensurePath(s.rootPath + "/" + unsequencedNode); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure unsequenced path: %w", err)
	}
	if err := s.ensurePath(s.rootPath + "/" + nodesNode); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ensure nodes path: %w", err)
	}
	return s, nil
}

// Close shuts down the ZooKeeper connection.
func (s *ZK) Close() error {
	s.conn.Close()
	return nil
}

func (s *ZK) ensurePath(path string) error {
	parts := strings.Split(path, "/")
	cur := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		cur = cur + "/" + p
		exists, _, err := s.conn.Exists(cur)
		if err != nil {
			return err
		}
		if !exists {
			_, err = s.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
			if err != nil && err != zk.ErrNodeExists {
				return err
			}
		}
	}
	return nil
}

// GetClusterNodeState implements Store.
func (s *ZK) GetClusterNodeState(ctx context.Context) (*ClusterNodeState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, _, err := s.conn.Get(s.nodePath())
	if err == zk.ErrNoNode {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get node state: %w", err)
	}
	state := &ClusterNodeState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, fmt.Errorf("decode node state: %w", err)
	}
	return state, nil
}

// SetClusterNodeState implements Store.
func (s *ZK) SetClusterNodeState(ctx context.Context, state *ClusterNodeState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode node state: %w", err)
	}
	path := s.nodePath()
	if _, err := s.conn.Create(path, data, 0, zk.WorldACL(zk.PermAll)); err != nil {
		if err != zk.ErrNodeExists {
			return fmt.Errorf("create node state: %w", err)
		}
		// Last-writer-wins: only this node writes its own state.
		if _, err := s.conn.Set(path, data, -1); err != nil {
			return fmt.Errorf("set node state: %w", err)
		}
	}
	return nil
}

// GetSequenceMapping implements Store.
func (s *ZK) GetSequenceMapping(ctx context.Context) (*SequenceMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, stat, err := s.conn.Get(s.mappingPath())
	if err == zk.ErrNoNode {
		// No round has committed yet: empty mapping, created on first update.
		return &SequenceMapping{Revision: -1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sequence mapping: %w", err)
	}
	mapping := &SequenceMapping{}
	if err := json.Unmarshal(data, mapping); err != nil {
		return nil, fmt.Errorf("decode sequence mapping: %w", err)
	}
	mapping.Revision = int64(stat.Version)
	return mapping, nil
}

// UpdateSequenceMapping implements Store.
func (s *ZK) UpdateSequenceMapping(ctx context.Context, mapping *SequenceMapping) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(mapping)
	if err != nil {
		return fmt.Errorf("encode sequence mapping: %w", err)
	}

	path := s.mappingPath()
	if mapping.Revision < 0 {
		_, err = s.conn.Create(path, data, 0, zk.WorldACL(zk.PermAll))
		if err == zk.ErrNodeExists {
			return ErrConflict
		}
	} else {
		_, err = s.conn.Set(path, data, int32(mapping.Revision))
		if err == zk.ErrBadVersion {
			return ErrConflict
		}
	}
	if err != nil {
		return fmt.Errorf("update sequence mapping: %w", err)
	}
	s.logger.Debug("sequence mapping updated",
		zap.Int("bindings", len(mapping.Mappings)),
		zap.Int64("revision", mapping.Revision),
	)
	return nil
}

// GetPendingEntries implements Store.
func (s *ZK) GetPendingEntries(ctx context.Context) ([]*entry.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parent := s.rootPath + "/" + unsequencedNode
	children, _, err := s.conn.Children(parent)
	if err != nil {
		return nil, fmt.Errorf("list pending entries: %w", err)
	}

	out := make([]*entry.Entry, 0, len(children))
	for _, child := range children {
		data, _, err := s.conn.Get(parent + "/" + child)
		if err == zk.ErrNoNode {
			// Removed between list and read; skip.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get pending entry %s: %w", child, err)
		}
		e := &entry.Entry{}
		if err := json.Unmarshal(data, e); err != nil {
			return nil, fmt.Errorf("decode pending entry %s: %w", child, err)
		}
		out = append(out, e)
	}
	return out, nil
}

// AddPendingEntry implements Store.
func (s *ZK) AddPendingEntry(ctx context.Context, e *entry.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode pending entry: %w", err)
	}
	path := fmt.Sprintf("%s/%s/%s", s.rootPath, unsequencedNode, hex.EncodeToString(e.Hash()))
	if _, err := s.conn.Create(path, data, 0, zk.WorldACL(zk.PermAll)); err != nil && err != zk.ErrNodeExists {
		return fmt.Errorf("create pending entry: %w", err)
	}
	return nil
}

func (s *ZK) mappingPath() string {
	return s.rootPath + "/" + mappingNode
}

func (s *ZK) nodePath() string {
	return fmt.Sprintf("%s/%s/%s", s.rootPath, nodesNode, s.nodeID)
}
