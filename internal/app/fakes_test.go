package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"club_attendance_engine/internal/domain/attendance"
	"club_attendance_engine/internal/domain/bono"
	"club_attendance_engine/internal/domain/class"
	"club_attendance_engine/internal/domain/notify"
	"club_attendance_engine/internal/domain/waitlist"
	idb "club_attendance_engine/internal/infra/database"

	"github.com/sirupsen/logrus"
)

// fixtureNow pins the services' clock so eligibility and cutoff checks
// never depend on when the tests run.
var fixtureNow = time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func dayKey(t time.Time) string { return class.Day(t).Format("2006-01-02") }

// --- class repository fake ---

type fakeClassRepo struct {
	classes     map[int64]*class.Class
	cancelled   map[string]bool // "classID|date"
	enrollments map[int64]*class.StudentEnrollment
	accounts    map[int64]*class.Account
}

func newFakeClassRepo() *fakeClassRepo {
	return &fakeClassRepo{
		classes:     make(map[int64]*class.Class),
		cancelled:   make(map[string]bool),
		enrollments: make(map[int64]*class.StudentEnrollment),
		accounts:    make(map[int64]*class.Account),
	}
}

func (r *fakeClassRepo) GetClass(_ context.Context, id int64) (*class.Class, error) {
	c, ok := r.classes[id]
	if !ok {
		return nil, idb.ErrClassNotFound
	}
	return c, nil
}

func (r *fakeClassRepo) ListActiveByWeekday(_ context.Context, weekday time.Weekday) ([]*class.Class, error) {
	var out []*class.Class
	for _, c := range r.classes {
		if !c.Active {
			continue
		}
		for _, wd := range c.DaysOfWeek {
			if wd == weekday {
				out = append(out, c)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeClassRepo) IsOccurrenceCancelled(_ context.Context, classID int64, date time.Time) (bool, error) {
	return r.cancelled[fmt.Sprintf("%d|%s", classID, dayKey(date))], nil
}

func (r *fakeClassRepo) cancelOccurrence(classID int64, date time.Time) {
	r.cancelled[fmt.Sprintf("%d|%s", classID, dayKey(date))] = true
}

func (r *fakeClassRepo) GetEnrollment(_ context.Context, id int64) (*class.StudentEnrollment, error) {
	e, ok := r.enrollments[id]
	if !ok {
		return nil, idb.ErrEnrollmentNotFound
	}
	return e, nil
}

func (r *fakeClassRepo) GetAccount(_ context.Context, id int64) (*class.Account, error) {
	a, ok := r.accounts[id]
	if !ok {
		return nil, idb.ErrAccountNotFound
	}
	return a, nil
}

// --- attendance repository fake ---

type fakeAttendanceRepo struct {
	participants     map[int64]*attendance.Participant
	confirmations    map[string]*attendance.Confirmation // "participantID|date"
	nextID           int64
	lockDeadline     time.Time // captured by LockDue
	lockDueCount     int64
	setAbsenceLocked bool // force the locked-row error on SetAbsence
}

func newFakeAttendanceRepo() *fakeAttendanceRepo {
	return &fakeAttendanceRepo{
		participants:  make(map[int64]*attendance.Participant),
		confirmations: make(map[string]*attendance.Confirmation),
	}
}

func (r *fakeAttendanceRepo) CreateParticipant(_ context.Context, p *attendance.Participant) error {
	r.nextID++
	p.ID = r.nextID
	r.participants[p.ID] = p
	return nil
}

func (r *fakeAttendanceRepo) GetParticipant(_ context.Context, id int64) (*attendance.Participant, error) {
	p, ok := r.participants[id]
	if !ok {
		return nil, idb.ErrParticipantNotFound
	}
	return p, nil
}

func (r *fakeAttendanceRepo) FindActiveParticipant(_ context.Context, classID, enrollmentID int64) (*attendance.Participant, error) {
	for _, p := range r.participants {
		if p.ClassID == classID && p.EnrollmentID == enrollmentID && p.Status == attendance.StatusActive {
			return p, nil
		}
	}
	return nil, idb.ErrParticipantNotFound
}

func (r *fakeAttendanceRepo) ListActiveRoster(_ context.Context, classID int64, date time.Time) ([]*attendance.Participant, error) {
	var out []*attendance.Participant
	for _, p := range r.participants {
		if p.ClassID != classID || p.Status != attendance.StatusActive {
			continue
		}
		key := fmt.Sprintf("%d|%s", p.ID, dayKey(date))
		if c, ok := r.confirmations[key]; ok && c.AbsenceConfirmed {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeAttendanceRepo) CountActiveRoster(ctx context.Context, classID int64, date time.Time) (int, error) {
	roster, err := r.ListActiveRoster(ctx, classID, date)
	if err != nil {
		return 0, err
	}
	return len(roster), nil
}

func (r *fakeAttendanceRepo) GetConfirmation(_ context.Context, participantID int64, date time.Time) (*attendance.Confirmation, error) {
	c, ok := r.confirmations[fmt.Sprintf("%d|%s", participantID, dayKey(date))]
	if !ok {
		return nil, idb.ErrConfirmationNotFound
	}
	return c, nil
}

func (r *fakeAttendanceRepo) SetAbsence(_ context.Context, participantID int64, date time.Time, confirmed bool) (*attendance.Confirmation, error) {
	key := fmt.Sprintf("%d|%s", participantID, dayKey(date))
	c, ok := r.confirmations[key]
	if !ok {
		c = &attendance.Confirmation{ParticipantID: participantID, ClassDate: class.Day(date)}
		r.confirmations[key] = c
	}
	if c.Locked || r.setAbsenceLocked {
		return nil, idb.ErrConfirmationLocked
	}
	c.AbsenceConfirmed = confirmed
	if confirmed {
		c.AbsenceConfirmedAt.Time, c.AbsenceConfirmedAt.Valid = time.Now().UTC(), true
	}
	return c, nil
}

func (r *fakeAttendanceRepo) LockDue(_ context.Context, deadline time.Time) (int64, error) {
	r.lockDeadline = deadline
	return r.lockDueCount, nil
}

// --- bono repository fake ---

type fakeBonoRepo struct {
	mu        sync.Mutex
	bonos     map[int64]*bono.Bono
	usages    map[int64]*bono.Usage
	nextBono  int64
	nextUsage int64
	// drainFirst makes the first N TryDebit calls lose the compare-and-swap,
	// simulating a concurrent debit landing between list and attempt.
	drainFirst int
}

func newFakeBonoRepo() *fakeBonoRepo {
	return &fakeBonoRepo{
		bonos:  make(map[int64]*bono.Bono),
		usages: make(map[int64]*bono.Usage),
	}
}

func (r *fakeBonoRepo) Create(_ context.Context, b *bono.Bono) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextBono++
	b.ID = r.nextBono
	r.bonos[b.ID] = b
	return nil
}

func (r *fakeBonoRepo) GetByID(_ context.Context, id int64) (*bono.Bono, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bonos[id]
	if !ok {
		return nil, idb.ErrBonoNotFound
	}
	return b, nil
}

func (r *fakeBonoRepo) ListByEnrollment(_ context.Context, enrollmentID int64) ([]*bono.Bono, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*bono.Bono
	for _, b := range r.bonos {
		if b.EnrollmentID == enrollmentID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeBonoRepo) ListEligible(_ context.Context, enrollmentID int64, types []bono.UsageType, now time.Time) ([]*bono.Bono, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*bono.Bono
	for _, b := range r.bonos {
		if b.EnrollmentID != enrollmentID || b.Status != bono.StatusActivo || b.RemainingClasses <= 0 || b.Expired(now) {
			continue
		}
		for _, t := range types {
			if b.UsageType == t {
				out = append(out, b)
				break
			}
		}
	}
	// Soonest expiry first; open-ended bonos last.
	sort.Slice(out, func(i, j int) bool {
		bi, bj := out[i], out[j]
		switch {
		case bi.ExpiresAt.Valid && bj.ExpiresAt.Valid:
			return bi.ExpiresAt.Time.Before(bj.ExpiresAt.Time)
		case bi.ExpiresAt.Valid:
			return true
		case bj.ExpiresAt.Valid:
			return false
		default:
			return bi.ID < bj.ID
		}
	})
	return out, nil
}

func (r *fakeBonoRepo) TryDebit(_ context.Context, bonoID int64, req bono.DebitRequest) (*bono.DebitResult, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bonos[bonoID]
	if !ok {
		return nil, false, idb.ErrBonoNotFound
	}
	if r.drainFirst > 0 {
		r.drainFirst--
		return nil, false, nil
	}
	if b.Status != bono.StatusActivo || b.RemainingClasses <= 0 {
		return nil, false, nil
	}
	b.RemainingClasses--
	if b.RemainingClasses == 0 {
		b.Status = bono.StatusAgotado
	}
	r.nextUsage++
	u := &bono.Usage{
		ID:             r.nextUsage,
		BonoID:         bonoID,
		ClassID:        req.ClassID,
		ClassDate:      class.Day(req.ClassDate),
		EnrollmentType: req.EnrollmentType,
		UsedAt:         time.Now().UTC(),
	}
	r.usages[u.ID] = u
	return &bono.DebitResult{Bono: b, Usage: u}, true, nil
}

func (r *fakeBonoRepo) Revert(_ context.Context, usageID int64, reason string) (*bono.Usage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.usages[usageID]
	if !ok {
		return nil, idb.ErrUsageNotFound
	}
	if u.RevertedAt.Valid {
		return nil, idb.ErrUsageAlreadyReverted
	}
	u.RevertedAt.Time, u.RevertedAt.Valid = time.Now().UTC(), true
	u.RevertedReason.String, u.RevertedReason.Valid = reason, true
	b := r.bonos[u.BonoID]
	b.RemainingClasses++
	if b.Status == bono.StatusAgotado {
		b.Status = bono.StatusActivo
	}
	return u, nil
}

func (r *fakeBonoRepo) Cancel(_ context.Context, bonoID int64) (*bono.Bono, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bonos[bonoID]
	if !ok {
		return nil, idb.ErrBonoNotFound
	}
	if b.Status == bono.StatusCancelado {
		return nil, idb.ErrBonoCancelled
	}
	b.Status = bono.StatusCancelado
	return b, nil
}

func (r *fakeBonoRepo) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, b := range r.bonos {
		if b.Status == bono.StatusActivo && b.Expired(now) {
			b.Status = bono.StatusExpirado
			n++
		}
	}
	return n, nil
}

// --- waitlist repository fake ---

type fakeWaitlistRepo struct {
	entries    map[int64]*waitlist.Entry
	nextID     int64
	attendance *fakeAttendanceRepo
	bonos      *fakeBonoRepo
}

func newFakeWaitlistRepo(ar *fakeAttendanceRepo, br *fakeBonoRepo) *fakeWaitlistRepo {
	return &fakeWaitlistRepo{
		entries:    make(map[int64]*waitlist.Entry),
		attendance: ar,
		bonos:      br,
	}
}

// Create enforces the same one-pending-entry-per-key unique constraint as
// the real table.
func (r *fakeWaitlistRepo) Create(_ context.Context, e *waitlist.Entry) error {
	for _, existing := range r.entries {
		if existing.ClassID == e.ClassID && dayKey(existing.ClassDate) == dayKey(e.ClassDate) &&
			existing.EnrollmentID == e.EnrollmentID && existing.Status == waitlist.StatusPending {
			return idb.ErrDuplicateEntry
		}
	}
	r.nextID++
	e.ID = r.nextID
	r.entries[e.ID] = e
	return nil
}

func (r *fakeWaitlistRepo) GetByID(_ context.Context, id int64) (*waitlist.Entry, error) {
	e, ok := r.entries[id]
	if !ok {
		return nil, idb.ErrEntryNotFound
	}
	return e, nil
}

func (r *fakeWaitlistRepo) ListPending(_ context.Context, classID int64, date time.Time) ([]*waitlist.Entry, error) {
	var out []*waitlist.Entry
	for _, e := range r.entries {
		if e.ClassID == classID && dayKey(e.ClassDate) == dayKey(date) && e.Status == waitlist.StatusPending {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out, nil
}

// Accept mirrors the single-transaction promotion of the real repository:
// the debit is attempted first and any failure leaves every row untouched.
func (r *fakeWaitlistRepo) Accept(ctx context.Context, entryID int64, debit bool) (*waitlist.AcceptResult, error) {
	e, ok := r.entries[entryID]
	if !ok {
		return nil, idb.ErrEntryNotFound
	}
	if e.Status != waitlist.StatusPending {
		return nil, idb.ErrEntryNotPending
	}

	result := &waitlist.AcceptResult{Winner: e}
	if debit {
		candidates, err := r.bonos.ListEligible(ctx, e.EnrollmentID, bono.CompatibleTypes(true), fixtureNow)
		if err != nil {
			return nil, err
		}
		req := bono.DebitRequest{
			EnrollmentID:   e.EnrollmentID,
			ClassID:        e.ClassID,
			ClassDate:      e.ClassDate,
			IsWaitlist:     true,
			EnrollmentType: bono.EnrollmentSubstitute,
		}
		for _, c := range candidates {
			res, ok, err := r.bonos.TryDebit(ctx, c.ID, req)
			if err != nil {
				return nil, err
			}
			if ok {
				result.Debit = res
				break
			}
		}
		if result.Debit == nil {
			return nil, idb.ErrNoEligibleBono
		}
	}

	p := &attendance.Participant{
		ClassID:      e.ClassID,
		EnrollmentID: e.EnrollmentID,
		Status:       attendance.StatusActive,
		IsSubstitute: true,
	}
	p.JoinedFromWaitlistAt.Time, p.JoinedFromWaitlistAt.Valid = time.Now().UTC(), true
	if err := r.attendance.CreateParticipant(ctx, p); err != nil {
		return nil, err
	}
	result.Participant = p

	e.Status = waitlist.StatusAccepted
	e.AcceptedAt.Time, e.AcceptedAt.Valid = time.Now().UTC(), true
	for _, sib := range r.entries {
		if sib.ID != e.ID && sib.ClassID == e.ClassID && dayKey(sib.ClassDate) == dayKey(e.ClassDate) && sib.Status == waitlist.StatusPending {
			sib.Status = waitlist.StatusExpired
			result.Expired = append(result.Expired, sib)
		}
	}
	sort.Slice(result.Expired, func(i, j int) bool { return result.Expired[i].ID < result.Expired[j].ID })
	return result, nil
}

func (r *fakeWaitlistRepo) Reject(_ context.Context, entryID int64) (*waitlist.Entry, error) {
	e, ok := r.entries[entryID]
	if !ok {
		return nil, idb.ErrEntryNotFound
	}
	if e.Status != waitlist.StatusPending {
		return nil, idb.ErrEntryNotPending
	}
	e.Status = waitlist.StatusRejected
	e.RejectedAt.Time, e.RejectedAt.Valid = time.Now().UTC(), true
	return e, nil
}

// --- notification repository fake ---

type fakeNotifyRepo struct {
	records map[string]*notify.Record
	byID    map[int64]*notify.Record
	nextID  int64
}

func newFakeNotifyRepo() *fakeNotifyRepo {
	return &fakeNotifyRepo{
		records: make(map[string]*notify.Record),
		byID:    make(map[int64]*notify.Record),
	}
}

func recordKey(rec *notify.Record) string {
	return fmt.Sprintf("%d|%d|%s|%s", rec.ClassID, rec.EnrollmentID, dayKey(rec.OccurrenceDate), rec.Kind)
}

func (r *fakeNotifyRepo) Claim(_ context.Context, rec *notify.Record) (bool, error) {
	key := recordKey(rec)
	if _, ok := r.records[key]; ok {
		return false, nil
	}
	r.nextID++
	rec.ID = r.nextID
	rec.Status = notify.StatusPending
	r.records[key] = rec
	r.byID[rec.ID] = rec
	return true, nil
}

func (r *fakeNotifyRepo) MarkSent(_ context.Context, id int64, messageID string) error {
	rec, ok := r.byID[id]
	if !ok {
		return idb.ErrNotificationNotFound
	}
	rec.Status = notify.StatusSent
	rec.MessageID.String, rec.MessageID.Valid = messageID, true
	rec.SentAt.Time, rec.SentAt.Valid = time.Now().UTC(), true
	return nil
}

func (r *fakeNotifyRepo) MarkFailed(_ context.Context, id int64, reason string) error {
	rec, ok := r.byID[id]
	if !ok {
		return idb.ErrNotificationNotFound
	}
	rec.Status = notify.StatusFailed
	rec.LastError.String, rec.LastError.Valid = reason, true
	return nil
}

func (r *fakeNotifyRepo) ListFailed(_ context.Context, since time.Time) ([]*notify.Record, error) {
	var out []*notify.Record
	for _, rec := range r.byID {
		if rec.Status == notify.StatusFailed && !rec.UpdatedAt.Before(since) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *fakeNotifyRepo) countByStatus(kind notify.Kind, status notify.Status) int {
	n := 0
	for _, rec := range r.byID {
		if rec.Kind == kind && rec.Status == status {
			n++
		}
	}
	return n
}

// --- provider fake ---

type sentMessage struct {
	Channel notify.Channel
	Kind    notify.Kind
	Params  notify.Params
}

type fakeProvider struct {
	sent      []sentMessage
	attempts  int
	failWith  error // returned on every call when set
	limited   int   // first N calls answer with ErrRateLimited
	messageID string
}

func (p *fakeProvider) Send(_ context.Context, ch notify.Channel, kind notify.Kind, params notify.Params) (string, error) {
	p.attempts++
	if p.limited > 0 {
		p.limited--
		return "", notify.ErrRateLimited
	}
	if p.failWith != nil {
		return "", p.failWith
	}
	p.sent = append(p.sent, sentMessage{Channel: ch, Kind: kind, Params: params})
	if p.messageID != "" {
		return p.messageID, nil
	}
	return fmt.Sprintf("msg-%d", len(p.sent)), nil
}

// --- shared fixture ---

// fixture wires every service against the in-memory fakes, with all three
// channel kinds routed to a single provider.
type fixture struct {
	classes    *fakeClassRepo
	attendance *fakeAttendanceRepo
	bonos      *fakeBonoRepo
	waitlist   *fakeWaitlistRepo
	notify     *fakeNotifyRepo
	provider   *fakeProvider

	dispatcher *Dispatcher
	waitlistSv *WaitlistService
	attendSv   *AttendanceService
	bonoSv     *BonoService
	reminderSv *ReminderService
}

func newFixture() *fixture {
	f := &fixture{
		classes:    newFakeClassRepo(),
		attendance: newFakeAttendanceRepo(),
		bonos:      newFakeBonoRepo(),
		notify:     newFakeNotifyRepo(),
		provider:   &fakeProvider{},
	}
	f.waitlist = newFakeWaitlistRepo(f.attendance, f.bonos)

	providers := map[notify.ChannelKind]notify.Provider{
		notify.ChannelWhatsApp: f.provider,
		notify.ChannelTelegram: f.provider,
		notify.ChannelEmail:    f.provider,
	}
	f.dispatcher = NewDispatcher(f.classes, providers, testLogger(), 2, time.Millisecond)
	f.waitlistSv = NewWaitlistService(f.waitlist, f.classes, f.attendance, f.notify, f.dispatcher, testLogger())
	f.attendSv = NewAttendanceService(f.attendance, f.classes, f.waitlistSv, time.Hour, true, testLogger())
	f.bonoSv = NewBonoService(f.bonos, f.classes, f.notify, f.dispatcher, testLogger())
	f.reminderSv = NewReminderService(f.classes, f.attendance, f.notify, f.dispatcher, 30*time.Minute, 24*time.Hour, testLogger())

	clock := func() time.Time { return fixtureNow }
	f.waitlistSv.now = clock
	f.attendSv.now = clock
	f.bonoSv.now = clock
	return f
}

func (f *fixture) addClass(c *class.Class) *class.Class {
	if c.StartTime == "" {
		c.StartTime = "18:00"
	}
	if c.Capacity == 0 {
		c.Capacity = 10
	}
	c.Active = true
	f.classes.classes[c.ID] = c
	return c
}

// addMember registers an enrollment reachable over WhatsApp and, when
// classID is non-zero, an active participant in that class.
func (f *fixture) addMember(enrollmentID, classID int64) *attendance.Participant {
	f.classes.enrollments[enrollmentID] = &class.StudentEnrollment{
		ID:       enrollmentID,
		FullName: fmt.Sprintf("Socio %d", enrollmentID),
		Phone:    nullString(fmt.Sprintf("+3460000%04d", enrollmentID)),
	}
	if classID == 0 {
		return nil
	}
	p := &attendance.Participant{ClassID: classID, EnrollmentID: enrollmentID, Status: attendance.StatusActive}
	_ = f.attendance.CreateParticipant(context.Background(), p)
	return p
}

func (f *fixture) addPendingEntry(classID int64, date time.Time, enrollmentID int64, requestedAt time.Time) *waitlist.Entry {
	e := &waitlist.Entry{
		ClassID:      classID,
		ClassDate:    class.Day(date),
		EnrollmentID: enrollmentID,
		Status:       waitlist.StatusPending,
		RequestedAt:  requestedAt,
	}
	_ = f.waitlist.Create(context.Background(), e)
	return e
}

func nullString(s string) (ns sql.NullString) {
	ns.String, ns.Valid = s, true
	return ns
}
