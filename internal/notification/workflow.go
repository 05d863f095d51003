package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"attendance-portal/internal/attendance"
	"attendance-portal/internal/directory"
	"attendance-portal/internal/lock"
	"attendance-portal/internal/metrics"
	"attendance-portal/internal/queue"
)

// UnknownSubject is shown when a subject id cannot be resolved.
const UnknownSubject = "Unknown"

// SlotWriter commits an approved batch: clear the slot, then write the payload.
type SlotWriter interface {
	ReplaceSlot(ctx context.Context, key attendance.OverwriteKey, records []attendance.Record) error
}

// UserResolver finds the owner of a conflicting record. Both the directory
// repository and the identity client satisfy it.
type UserResolver interface {
	GetUser(ctx context.Context, id string) (directory.User, error)
}

// SubjectLookup names subjects for display.
type SubjectLookup interface {
	GetSubject(ctx context.Context, id string) (directory.Subject, error)
}

// Workflow creates and resolves notifications.
type Workflow struct {
	store    Store
	slots    SlotWriter
	users    UserResolver
	subjects SubjectLookup
	events   queue.Queue
	counter  Counter
	guard    lock.Guard
	overlay  *Overlay
	log      *zap.Logger
	now      func() time.Time
}

// NewWorkflow wires the mandatory collaborators. Optional ones are set with
// the With* methods.
func NewWorkflow(st Store, slots SlotWriter, users UserResolver, log *zap.Logger) *Workflow {
	if log == nil {
		log = zap.NewNop()
	}
	return &Workflow{
		store:   st,
		slots:   slots,
		users:   users,
		guard:   lock.NewLocal(30 * time.Second),
		overlay: NewOverlay(0),
		log:     log,
		now:     time.Now,
	}
}

// WithSubjects names subjects in request payloads; without it they read "Unknown".
func (w *Workflow) WithSubjects(s SubjectLookup) *Workflow {
	w.subjects = s
	return w
}

// WithQueue publishes inbox changes for the worker.
func (w *Workflow) WithQueue(q queue.Queue) *Workflow {
	w.events = q
	return w
}

// WithCounter serves unread counts from a cache.
func (w *Workflow) WithCounter(c Counter) *Workflow {
	w.counter = c
	return w
}

func (w *Workflow) WithGuard(g lock.Guard) *Workflow {
	w.guard = g
	return w
}

func (w *Workflow) WithOverlay(o *Overlay) *Workflow {
	w.overlay = o
	return w
}

// RequestOverwrite creates one OVERWRITE_REQUEST addressed to the owner of
// the conflicting slot. The pending batch is stored without timestamps; they
// are assigned when the owner approves.
func (w *Workflow) RequestOverwrite(ctx context.Context, req attendance.OverwriteRequest) (string, error) {
	if req.Date == "" || req.BranchID == "" || !attendance.ValidSlot(req.Conflict.Slot) {
		return "", fmt.Errorf("%w: date, branch and slot required", ErrValidation)
	}
	owner, err := w.users.GetUser(ctx, req.Conflict.OwnerID)
	if errors.Is(err, directory.ErrNotFound) || (err == nil && owner.ID == "") {
		return "", fmt.Errorf("%w: %s", ErrTargetNotFound, req.Conflict.OwnerID)
	}
	if err != nil {
		return "", fmt.Errorf("resolve owner: %w", err)
	}

	records := make([]attendance.Record, len(req.Records))
	copy(records, req.Records)
	for i := range records {
		records[i].Timestamp = 0
	}

	n := Notification{
		ID:           uuid.NewString(),
		ToUserID:     owner.ID,
		FromUserID:   req.Requester.ID,
		FromUserName: req.Requester.Name,
		Type:         TypeOverwriteRequest,
		Status:       StatusPending,
		Data: Data{
			Date:              req.Date,
			Slot:              req.Conflict.Slot,
			SubjectID:         req.SubjectID,
			SubjectName:       w.subjectName(ctx, req.SubjectID),
			BranchID:          req.BranchID,
			Reason:            req.Reason,
			AttendanceRecords: records,
		},
		Timestamp: w.now().UnixMilli(),
	}
	if err := w.store.Create(ctx, n); err != nil {
		return "", fmt.Errorf("create overwrite request: %w", err)
	}
	w.publish(ctx, queue.TypeNotificationCreated, n.ToUserID, n.ID)
	w.log.Info("overwrite request created",
		zap.String("id", n.ID),
		zap.String("from", n.FromUserID),
		zap.String("to", n.ToUserID),
		zap.String("date", n.Data.Date),
		zap.Int("slot", n.Data.Slot),
		zap.Int("records", len(records)),
	)
	return n.ID, nil
}

// WithdrawOverwrite deletes an overwrite request its owner has not acted on.
// A request that is gone already counts as withdrawn; a resolved one is left
// in place and reported as ErrNotActionable.
func (w *Workflow) WithdrawOverwrite(ctx context.Context, id string) error {
	n, err := w.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if n.Type != TypeOverwriteRequest || n.Status.Resolved() {
		return ErrNotActionable
	}
	if err := w.store.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("withdraw overwrite request: %w", err)
	}
	w.publish(ctx, queue.TypeNotificationChanged, n.ToUserID, id)
	w.log.Info("overwrite request withdrawn", zap.String("id", id), zap.String("to", n.ToUserID))
	return nil
}

// Resolve approves or denies an overwrite request. Only the addressee may
// act, and only once: acting on an already resolved request returns it
// unchanged.
func (w *Workflow) Resolve(ctx context.Context, id string, decision Decision, actor directory.User) (Notification, error) {
	if decision != Approve && decision != Deny {
		return Notification{}, fmt.Errorf("%w: decision must be %s or %s", ErrValidation, Approve, Deny)
	}
	n, err := w.store.Get(ctx, id)
	if err != nil {
		return Notification{}, err
	}
	if n.ToUserID != actor.ID {
		return Notification{}, ErrForbidden
	}
	if n.Type != TypeOverwriteRequest {
		return Notification{}, ErrNotActionable
	}
	if n.Status.Resolved() {
		return n, nil
	}

	release, err := w.guard.Acquire(ctx, "notification:"+id)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return Notification{}, ErrBusy
		}
		return Notification{}, fmt.Errorf("acquire resolve guard: %w", err)
	}
	defer release()

	target := decision.status()
	w.overlay.Patch(id, target)
	claimed, err := w.store.Transition(ctx, id, []Status{StatusPending, StatusRead}, target)
	if err != nil {
		w.overlay.Revert(id)
		return Notification{}, fmt.Errorf("claim notification: %w", err)
	}
	if !claimed {
		// someone resolved it between our read and the claim
		w.overlay.Revert(id)
		return w.store.Get(ctx, id)
	}

	if err := w.apply(ctx, n, decision, actor); err != nil {
		w.overlay.Revert(id)
		if _, revertErr := w.store.Transition(ctx, id, []Status{target}, n.Status); revertErr != nil {
			w.log.Error("revert notification claim", zap.String("id", id), zap.Error(revertErr))
			err = errors.Join(err, revertErr)
		}
		return Notification{}, err
	}

	metrics.Resolutions.WithLabelValues(string(decision)).Inc()
	w.publish(ctx, queue.TypeNotificationChanged, n.ToUserID, n.ID)
	w.log.Info("overwrite request resolved",
		zap.String("id", id),
		zap.String("decision", string(decision)),
		zap.String("owner", actor.ID),
		zap.String("requester", n.FromUserID),
	)

	after, err := w.store.Get(ctx, id)
	if err != nil {
		// the write went through; the overlay covers the stale read
		n.Status = target
		return n, nil
	}
	w.overlay.Ack(id, after.Status, true)
	return after, nil
}

// apply performs the side effects of a claimed decision.
func (w *Workflow) apply(ctx context.Context, n Notification, decision Decision, actor directory.User) error {
	replyType := TypeRequestDenied
	if decision == Approve {
		replyType = TypeRequestApproved
		stamp := w.now().UnixMilli()
		records := make([]attendance.Record, len(n.Data.AttendanceRecords))
		copy(records, n.Data.AttendanceRecords)
		for i := range records {
			records[i].Timestamp = stamp
		}
		if err := w.slots.ReplaceSlot(ctx, n.Data.OverwriteKey(), records); err != nil {
			return fmt.Errorf("commit approved attendance: %w", err)
		}
		metrics.RecordsSaved.WithLabelValues("approval").Add(float64(len(records)))
	}

	reply := Notification{
		ID:           uuid.NewString(),
		ToUserID:     n.FromUserID,
		FromUserID:   actor.ID,
		FromUserName: actor.Name,
		Type:         replyType,
		Status:       StatusPending,
		Data: Data{
			Date:        n.Data.Date,
			Slot:        n.Data.Slot,
			SubjectID:   n.Data.SubjectID,
			SubjectName: n.Data.SubjectName,
			BranchID:    n.Data.BranchID,
			RequestID:   n.ID,
		},
		Timestamp: w.now().UnixMilli(),
	}
	if err := w.store.Create(ctx, reply); err != nil {
		return fmt.Errorf("notify requester: %w", err)
	}
	w.publish(ctx, queue.TypeNotificationCreated, reply.ToUserID, reply.ID)
	return nil
}

// List returns the actor's notifications with pending local changes applied.
func (w *Workflow) List(ctx context.Context, actor directory.User) ([]Notification, error) {
	list, err := w.store.ListForUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}
	return w.overlay.Apply(list), nil
}

// MarkRead flags a pending notification as seen. Other states are left alone.
func (w *Workflow) MarkRead(ctx context.Context, id string, actor directory.User) error {
	if _, err := w.owned(ctx, id, actor); err != nil {
		return err
	}
	changed, err := w.store.Transition(ctx, id, []Status{StatusPending}, StatusRead)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	if changed {
		w.publish(ctx, queue.TypeNotificationChanged, actor.ID, id)
	}
	return nil
}

// Delete removes one notification. Attendance committed by an earlier
// approval is not touched.
func (w *Workflow) Delete(ctx context.Context, id string, actor directory.User) error {
	if _, err := w.owned(ctx, id, actor); err != nil {
		return err
	}
	w.overlay.PatchDeleted(id)
	if err := w.store.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		w.overlay.Revert(id)
		return fmt.Errorf("delete notification: %w", err)
	}
	_, err := w.store.Get(ctx, id)
	w.overlay.Ack(id, "", !errors.Is(err, ErrNotFound))
	w.publish(ctx, queue.TypeNotificationChanged, actor.ID, id)
	return nil
}

// DeleteAll clears the actor's inbox and returns how many were removed.
func (w *Workflow) DeleteAll(ctx context.Context, actor directory.User) (int, error) {
	n, err := w.store.DeleteAllForUser(ctx, actor.ID)
	if err != nil {
		return 0, fmt.Errorf("delete notifications: %w", err)
	}
	if w.counter != nil {
		if err := w.counter.Forget(ctx, actor.ID); err != nil {
			w.log.Warn("forget unread count", zap.String("user", actor.ID), zap.Error(err))
		}
	}
	w.publish(ctx, queue.TypeNotificationsPurged, actor.ID, "")
	return n, nil
}

// UnreadCount serves the cached count when there is one and falls back to
// counting in the store.
func (w *Workflow) UnreadCount(ctx context.Context, actor directory.User) (int, error) {
	if w.counter != nil {
		n, ok, err := w.counter.Get(ctx, actor.ID)
		if err != nil {
			w.log.Warn("read unread count", zap.String("user", actor.ID), zap.Error(err))
		}
		if ok {
			return n, nil
		}
	}
	n, err := w.store.CountUnread(ctx, actor.ID)
	if err != nil {
		return 0, err
	}
	if w.counter != nil {
		if err := w.counter.Set(ctx, actor.ID, n); err != nil {
			w.log.Warn("cache unread count", zap.String("user", actor.ID), zap.Error(err))
		}
	}
	return n, nil
}

func (w *Workflow) owned(ctx context.Context, id string, actor directory.User) (Notification, error) {
	n, err := w.store.Get(ctx, id)
	if err != nil {
		return Notification{}, err
	}
	if n.ToUserID != actor.ID {
		return Notification{}, ErrForbidden
	}
	return n, nil
}

func (w *Workflow) subjectName(ctx context.Context, subjectID string) string {
	if w.subjects == nil || subjectID == "" {
		return UnknownSubject
	}
	s, err := w.subjects.GetSubject(ctx, subjectID)
	if err != nil || s.Name == "" {
		return UnknownSubject
	}
	return s.Name
}

// publish announces a change to the worker. Failures are logged, never
// returned: the store already holds the change.
func (w *Workflow) publish(ctx context.Context, typ, userID, ref string) {
	if w.events == nil {
		return
	}
	if err := w.events.Publish(ctx, queue.Message{Type: typ, UserID: userID, Ref: ref}); err != nil {
		w.log.Warn("publish notification event", zap.String("type", typ), zap.String("user", userID), zap.Error(err))
	}
}
