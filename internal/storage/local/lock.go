package local

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ErrLocked is returned when another live process holds the state lock.
var ErrLocked = errors.New("state directory is locked by another writer")

// Lock is an exclusive lock file guarding a state directory. A lock whose
// file has not been touched within the TTL is considered abandoned.
type Lock struct {
	path string
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// AcquireLock creates dir/name exclusively, replacing it if stale, and keeps
// it fresh with a heartbeat until Release.
func AcquireLock(dir string, ttl time.Duration) (*Lock, error) {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	path := filepath.Join(dir, "crawlkit.lock")
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			_, werr := fmt.Fprintf(f, `{"pid":%d,"time":%d}`+"\n", os.Getpid(), time.Now().Unix())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write lock file: %w", errors.Join(werr, cerr))
			}
			l := &Lock{path: path, stop: make(chan struct{})}
			l.wg.Add(1)
			go l.heartbeat(ttl / 3)
			return l, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		info, statErr := os.Stat(path)
		if statErr != nil {
			continue
		}
		if time.Since(info.ModTime()) < ttl {
			return nil, ErrLocked
		}
		_ = os.Remove(path)
	}
	return nil, ErrLocked
}

func (l *Lock) heartbeat(every time.Duration) {
	defer l.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			now := time.Now()
			_ = os.Chtimes(l.path, now, now)
		}
	}
}

// Release stops the heartbeat and removes the lock file.
func (l *Lock) Release() error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		l.wg.Wait()
		if rmErr := os.Remove(l.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			err = fmt.Errorf("remove lock file: %w", rmErr)
		}
	})
	return err
}
