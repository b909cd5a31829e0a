package player

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shi-gg/linkdave-go/client/protocol"
	"github.com/shi-gg/linkdave-go/client/queue"
)

type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatTrack
	RepeatQueue
)

const advanceTimeout = 10 * time.Second

// QueuedPlayer decorates the base player with a track queue and
// repeat/shuffle policy. Tracks ending naturally advance the queue.
type QueuedPlayer struct {
	*Player
	queue *queue.Queue

	mu         sync.Mutex
	repeatMode RepeatMode
	shuffle    bool
	current    *queue.TrackReference
}

// NewQueuedPlayerFactory returns a Factory building queued players
// whose dequeue history keeps up to historyCapacity entries.
func NewQueuedPlayerFactory(historyCapacity int) Factory {
	return func(ctx Context, snapshot protocol.Player) GuildPlayer {
		return &QueuedPlayer{
			Player: newPlayer(ctx, snapshot),
			queue:  queue.New(historyCapacity),
		}
	}
}

func (q *QueuedPlayer) Queue() *queue.Queue {
	return q.queue
}

func (q *QueuedPlayer) RepeatMode() RepeatMode {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.repeatMode
}

func (q *QueuedPlayer) SetRepeatMode(mode RepeatMode) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.repeatMode = mode
}

func (q *QueuedPlayer) Shuffle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuffle
}

func (q *QueuedPlayer) SetShuffle(shuffle bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuffle = shuffle
}

// Play starts the reference immediately when nothing is playing,
// otherwise enqueues it. It returns the number of tracks ahead of the
// reference; zero means it started right away.
func (q *QueuedPlayer) Play(ctx context.Context, reference queue.TrackReference) (int, error) {
	if q.Destroyed() {
		return 0, ErrPlayerDestroyed
	}

	if q.Lifecycle() == LifecycleNotPlaying && q.queue.IsEmpty() {
		if err := q.playNow(ctx, reference); err != nil {
			return 0, err
		}
		return 0, nil
	}

	position := q.queue.Enqueue(queue.NewItem(reference))
	return position + 1, nil
}

func (q *QueuedPlayer) playNow(ctx context.Context, reference queue.TrackReference) error {
	q.mu.Lock()
	q.current = &reference
	q.mu.Unlock()
	return q.Player.Play(ctx, reference)
}

// Skip ends the current track and starts the next queued one. A count
// of zero is a no-op; a count above one drops the skipped-over entries.
func (q *QueuedPlayer) Skip(ctx context.Context, count int) error {
	if q.Destroyed() {
		return ErrPlayerDestroyed
	}
	if count <= 0 {
		return nil
	}

	shuffle := q.Shuffle()
	var next *queue.Item
	for i := 0; i < count; i++ {
		item, err := q.queue.Dequeue(shuffle)
		if err != nil {
			break
		}
		next = &item
	}

	if next == nil {
		q.mu.Lock()
		q.current = nil
		q.mu.Unlock()
		return q.Player.Stop(ctx)
	}
	return q.playNow(ctx, next.Reference)
}

// NotifyTrackEnd advances the queue according to the repeat mode after
// the base player has absorbed the notification.
func (q *QueuedPlayer) NotifyTrackEnd(track protocol.Track, reason string) {
	q.Player.NotifyTrackEnd(track, reason)

	if !protocol.MayStartNext(reason) {
		return
	}

	go q.advance(track)
}

func (q *QueuedPlayer) advance(ended protocol.Track) {
	if q.Destroyed() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), advanceTimeout)
	defer cancel()

	q.mu.Lock()
	mode := q.repeatMode
	shuffle := q.shuffle
	current := q.current
	q.mu.Unlock()

	switch mode {
	case RepeatTrack:
		if current != nil {
			if err := q.playNow(ctx, *current); err != nil {
				q.logger.Error("failed to repeat track", slog.Any("error", err))
			}
			return
		}
	case RepeatQueue:
		q.queue.Enqueue(queue.NewItem(queue.NewTrackReference(ended)))
	}

	item, err := q.queue.Dequeue(shuffle)
	if err != nil {
		q.mu.Lock()
		q.current = nil
		q.mu.Unlock()
		q.logger.Debug("queue exhausted")
		return
	}

	if err := q.playNow(ctx, item.Reference); err != nil {
		q.logger.Error("failed to start next track", slog.Any("error", err))
	}
}
