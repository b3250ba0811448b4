// internal/service/inventory/infrastructure/zk_lock.go
package infrastructure

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/pkg/errors"

	"stocknexus/internal/pkg/resilience"
)

const zkLockRoot = "/stocknexus_locks"

// ZkLockManager 用临时顺序节点实现 LockManager，作为 Redis 锁的备选后端。
// 公平排队：序号最小者持锁，其余各自只监听前一个节点。
// 租约由 ZooKeeper 会话承担，持有者崩溃时临时节点随会话消失，
// lease 参数在这个后端里不生效。
// Token 即持有者创建的节点路径，释放就是删除自己的节点。
type ZkLockManager struct {
	conn *zk.Conn
}

func NewZkLockManager(servers []string, sessionTimeout time.Duration) (*ZkLockManager, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to zookeeper")
	}
	m := &ZkLockManager{conn: conn}
	if err := m.ensurePath(zkLockRoot); err != nil {
		conn.Close()
		return nil, err
	}
	return m, nil
}

func (m *ZkLockManager) Acquire(ctx context.Context, key resilience.LockKey, wait, _ time.Duration) (resilience.Token, error) {
	lockPath := zkLockRoot + "/" + sanitizeZkNode(key.String())
	if err := m.ensurePath(lockPath); err != nil {
		return "", err
	}

	node, err := m.conn.CreateProtectedEphemeralSequential(lockPath+"/lock-", []byte{}, zk.WorldACL(zk.PermAll))
	if err != nil {
		return "", errors.Wrap(err, "failed to create sequential node")
	}

	deadline := time.Now().Add(wait)
	for {
		children, _, err := m.conn.Children(lockPath)
		if err != nil {
			m.abandon(node)
			return "", errors.Wrap(err, "failed to list lock children")
		}
		sort.Strings(children)

		myName := strings.TrimPrefix(node, lockPath+"/")
		myIndex := -1
		for i, child := range children {
			if child == myName {
				myIndex = i
				break
			}
		}
		if myIndex == 0 {
			return resilience.Token(node), nil
		}
		if myIndex < 0 {
			// 会话抖动可能让节点消失，按未获取处理
			return "", resilience.ErrNotAcquired
		}

		// 只监听前一个节点，避免惊群
		prevPath := lockPath + "/" + children[myIndex-1]
		exists, _, eventChan, err := m.conn.ExistsW(prevPath)
		if err != nil {
			m.abandon(node)
			return "", errors.Wrap(err, "failed to watch previous node")
		}
		if !exists {
			continue
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			m.abandon(node)
			return "", resilience.ErrNotAcquired
		}
		select {
		case <-eventChan:
		case <-time.After(remaining):
			m.abandon(node)
			return "", resilience.ErrNotAcquired
		case <-ctx.Done():
			m.abandon(node)
			return "", ctx.Err()
		}
	}
}

func (m *ZkLockManager) Release(_ context.Context, _ resilience.LockKey, token resilience.Token) error {
	err := m.conn.Delete(string(token), -1)
	if err != nil && err != zk.ErrNoNode {
		return errors.Wrap(err, "failed to delete lock node")
	}
	return nil
}

func (m *ZkLockManager) Close() {
	m.conn.Close()
}

func (m *ZkLockManager) ensurePath(path string) error {
	exists, _, err := m.conn.Exists(path)
	if err != nil {
		return errors.Wrapf(err, "failed to check path %s", path)
	}
	if exists {
		return nil
	}
	_, err = m.conn.Create(path, []byte{}, 0, zk.WorldACL(zk.PermAll))
	if err != nil && err != zk.ErrNodeExists {
		return errors.Wrapf(err, "failed to create path %s", path)
	}
	return nil
}

// abandon 清理排队失败后留下的节点，失败也无妨，会话结束时自动回收。
func (m *ZkLockManager) abandon(node string) {
	_ = m.conn.Delete(node, -1)
}

// ZooKeeper 节点名不允许斜杠，锁键里的冒号保留
func sanitizeZkNode(s string) string {
	return strings.ReplaceAll(s, "/", "_")
}
