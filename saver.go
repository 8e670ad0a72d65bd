package anvil

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// EnableBackgroundSaves starts a background goroutine that writes stored
// columns to their regions asynchronously. Columns stored in the meantime
// are served from memory by LoadColumn.
func (p *Provider) EnableBackgroundSaves() {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()

	// Already running.
	if p.saveCh != nil {
		return
	}
	p.saveCh = make(chan struct{}, 1)
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})

	go p.runSaver(p.saveCh, p.stopCh, p.done)
}

// DisableBackgroundSaves stops the background saver and waits for it to
// exit. Columns still pending are written by the next Flush or Close.
func (p *Provider) DisableBackgroundSaves() {
	p.queueMu.Lock()
	stop, done := p.stopCh, p.done
	p.saveCh, p.stopCh, p.done = nil, nil, nil
	p.queueMu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// Flush writes every pending column to its region. Columns that fail to
// write stay pending and are retried on the next flush.
func (p *Provider) Flush() error {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.queueMu.Lock()
	batch := make(map[columnKey]*pendingColumn, len(p.pending))
	for k, pc := range p.pending {
		batch[k] = pc
	}
	p.queueMu.Unlock()

	var errs []error
	for k, pc := range batch {
		if err := p.writeChunk(k.dir, pc.chunk, pc.entities); err != nil {
			errs = append(errs, err)
			continue
		}
		p.queueMu.Lock()
		// A newer store of the same column stays queued.
		if p.pending[k] == pc {
			delete(p.pending, k)
		}
		p.queueMu.Unlock()
	}
	return errors.Join(errs...)
}

// Pending returns the number of columns waiting to be written.
func (p *Provider) Pending() int {
	p.queueMu.Lock()
	defer p.queueMu.Unlock()
	return len(p.pending)
}

// runSaver processes asynchronous store requests.
func (p *Provider) runSaver(saveCh, stopCh, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-saveCh:
			if err := p.Flush(); err != nil {
				p.log.WithFields(logrus.Fields{"pending": p.Pending()}).WithError(err).Error("Background store failed.")
			}
		case <-stopCh:
			return
		}
	}
}
