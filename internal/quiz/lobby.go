// internal/quiz/lobby.go
package quiz

import (
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/spektrum-live/spektrum/internal/catalog"
)

const defaultAlternativeCount = 6

// Settings are the per-lobby knobs fixed at creation.
type Settings struct {
	RoundDuration    time.Duration
	SetID            string
	AlternativeCount int
}

// Participant is a player or host known to the lobby. The lobby owns these
// records exclusively; connections refer to them by id only.
type Participant struct {
	ID             uuid.UUID
	Name           string
	Score          int
	LastRoundScore int
	IsHost         bool
	IsAttached     bool
}

// answer is one participant's (first and only) submission for a round.
type answer struct {
	Text      string
	ArrivalMS int64
	Correct   bool
	Awarded   int
}

// round is the live question state; non-nil iff phase == Question.
type round struct {
	QuestionID     string
	Alternatives   []string
	CorrectOptions []string
	StartedAt      time.Time
	Duration       time.Duration
	Answers        map[uuid.UUID]*answer
}

// Lobby is one live game room. It runs as a single logical actor: every
// mutation happens on the loop goroutine consuming l.cmds, which makes
// command ordering total and removes intra-lobby locking.
type Lobby struct {
	ID       uuid.UUID
	JoinCode string

	settings Settings
	// snap is the catalog snapshot captured at creation; a concurrent
	// catalog reload never changes a running lobby.
	snap *catalog.Snapshot
	log  *logrus.Entry

	cmds chan envelope
	done chan struct{}

	// Loop-owned state. Nothing below is touched off the loop goroutine.
	phase        Phase
	participants map[uuid.UUID]*Participant
	joinOrder    []uuid.UUID
	sinks        map[uuid.UUID]Sink
	viewers      map[uuid.UUID]Sink
	upcoming     []string
	cur          *round
	timer        *time.Timer
	rng          *rand.Rand
	now          func() time.Time
	closed       bool

	// meta mirrors a few loop-owned fields for cross-goroutine readers
	// (registry gc). Updated at the end of every applied command.
	meta struct {
		mu           sync.Mutex
		phase        Phase
		lastActivity time.Time
		gameOverAt   time.Time
	}

	onClose func(*Lobby)
}

// newLobby builds a lobby; the caller starts the loop with go l.run() and
// seeds the host with l.Join.
func newLobby(id uuid.UUID, joinCode string, snap *catalog.Snapshot, settings Settings, logger *logrus.Logger, onClose func(*Lobby)) *Lobby {
	if settings.AlternativeCount <= 0 {
		settings.AlternativeCount = defaultAlternativeCount
	}
	if settings.RoundDuration <= 0 {
		settings.RoundDuration = 30 * time.Second
	}
	l := &Lobby{
		ID:           id,
		JoinCode:     joinCode,
		settings:     settings,
		snap:         snap,
		log:          logger.WithField("lobby", id.String()),
		cmds:         make(chan envelope, 64),
		done:         make(chan struct{}),
		phase:        PhaseLobby,
		participants: make(map[uuid.UUID]*Participant),
		sinks:        make(map[uuid.UUID]Sink),
		viewers:      make(map[uuid.UUID]Sink),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
		now:          time.Now,
		onClose:      onClose,
	}
	now := l.now()
	l.meta.phase = PhaseLobby
	l.meta.lastActivity = now
	return l
}

// --- public command API -----------------------------------------------------

// Join admits a participant while the lobby is still in the Lobby phase.
// Name syntax is validated by the registry; uniqueness is checked here.
func (l *Lobby) Join(name string, host bool) (uuid.UUID, error) {
	var id uuid.UUID
	if err := l.do(join{name: name, host: host, out: &id}); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// Attach binds a sink to a participant (or viewer) and replays full state.
func (l *Lobby) Attach(participantID uuid.UUID, viewer bool, sink Sink) error {
	return l.do(attach{id: participantID, viewer: viewer, sink: sink})
}

// Detach unbinds one sink from a participant; their score and identity
// persist. A detach whose sink has already been replaced by a newer
// attachment is a no-op, so a reconnect racing the old connection's teardown
// keeps its fresh attachment.
func (l *Lobby) Detach(participantID uuid.UUID, sink Sink) {
	_ = l.do(detach{id: participantID, sink: sink})
}

// SubmitAnswer records a participant's answer in the current round.
func (l *Lobby) SubmitAnswer(participantID uuid.UUID, text string) error {
	return l.do(submitAnswer{id: participantID, text: text})
}

// StartGame permutes the question queue and moves Lobby -> Score.
func (l *Lobby) StartGame(issuer uuid.UUID) error { return l.do(startGame{issuer: issuer}) }

// StartRound dequeues the next question and moves to the Question phase.
func (l *Lobby) StartRound(issuer uuid.UUID) error { return l.do(startRound{issuer: issuer}) }

// EndRound freezes the round and reveals scores. Idempotent once applied.
func (l *Lobby) EndRound(issuer uuid.UUID) error { return l.do(endRound{issuer: issuer}) }

// SkipQuestion discards the head of the upcoming queue.
func (l *Lobby) SkipQuestion(issuer uuid.UUID) error { return l.do(skipQuestion{issuer: issuer}) }

// EndGame moves any live phase to GameOver.
func (l *Lobby) EndGame(issuer uuid.UUID) error { return l.do(endGame{issuer: issuer}) }

// RemoveParticipant removes a participant (host command) along with any
// answer they hold in the current round.
func (l *Lobby) RemoveParticipant(issuer, target uuid.UUID) error {
	return l.do(removeParticipant{issuer: issuer, target: target})
}

// CloseByHost is the host's terminal CloseLobby command.
func (l *Lobby) CloseByHost(issuer uuid.UUID) error {
	return l.do(closeLobby{issuer: issuer, reason: "closed by host"})
}

// Close is the system-side terminal close (gc sweep, shutdown).
func (l *Lobby) Close(reason string) {
	_ = l.do(closeLobby{system: true, reason: reason})
}

// Done is closed when the lobby has shut down.
func (l *Lobby) Done() <-chan struct{} { return l.done }

// Info reports phase, last activity and game-over time for the gc sweep.
func (l *Lobby) Info() (Phase, time.Time, time.Time) {
	l.meta.mu.Lock()
	defer l.meta.mu.Unlock()
	return l.meta.phase, l.meta.lastActivity, l.meta.gameOverAt
}

// do routes a command through the loop and waits for its reply.
func (l *Lobby) do(cmd command) error {
	errc := make(chan error, 1)
	select {
	case l.cmds <- envelope{cmd: cmd, errc: errc}:
	case <-l.done:
		return E(CodeLobbyClosed, "lobby is closed")
	}
	select {
	case err := <-errc:
		return err
	case <-l.done:
		return E(CodeLobbyClosed, "lobby is closed")
	}
}

// enqueueTick is called from the round timer goroutine.
func (l *Lobby) enqueueTick() {
	select {
	case l.cmds <- envelope{cmd: tick{}}:
	case <-l.done:
	}
}

// --- loop -------------------------------------------------------------------

// run is the lobby's command loop. A panic while applying a command is
// contained to this lobby: it is recovered and converted into a close.
func (l *Lobby) run() {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("panic", r).Error("lobby loop panicked")
			l.applyClose("InternalError")
			l.drain()
		}
	}()
	for env := range l.cmds {
		err := l.apply(env.cmd)
		if env.errc != nil {
			env.errc <- err
		}
		if l.closed {
			l.drain()
			return
		}
	}
}

// drain rejects whatever is still queued after close, then releases waiters.
func (l *Lobby) drain() {
	for {
		select {
		case env := <-l.cmds:
			if env.errc != nil {
				env.errc <- E(CodeLobbyClosed, "lobby is closed")
			}
		default:
			return
		}
	}
}

func (l *Lobby) apply(cmd command) error {
	var err error
	switch c := cmd.(type) {
	case join:
		err = l.applyJoin(c)
	case attach:
		err = l.applyAttach(c)
	case detach:
		err = l.applyDetach(c)
	case submitAnswer:
		err = l.applySubmitAnswer(c)
	case startGame:
		err = l.applyStartGame(c)
	case startRound:
		err = l.applyStartRound(c)
	case endRound:
		err = l.applyEndRound(c)
	case skipQuestion:
		err = l.applySkipQuestion(c)
	case endGame:
		err = l.applyEndGame(c)
	case removeParticipant:
		err = l.applyRemoveParticipant(c)
	case closeLobby:
		err = l.applyCloseCmd(c)
	case tick:
		err = l.applyTick()
	}
	if err == nil {
		l.touch()
	}
	return err
}

// touch refreshes the activity clock and the gc-visible meta mirror.
func (l *Lobby) touch() {
	now := l.now()
	l.meta.mu.Lock()
	l.meta.phase = l.phase
	l.meta.lastActivity = now
	if l.phase == PhaseGameOver && l.meta.gameOverAt.IsZero() {
		l.meta.gameOverAt = now
	}
	l.meta.mu.Unlock()
}

// requireHost resolves the issuer and checks the host flag.
func (l *Lobby) requireHost(issuer uuid.UUID) error {
	p, ok := l.participants[issuer]
	if !ok {
		return E(CodeParticipantUnknown, "participant %s not in lobby", issuer)
	}
	if !p.IsHost {
		return E(CodeUnauthorized, "only the host may do that")
	}
	return nil
}

func (l *Lobby) applyJoin(c join) error {
	if l.phase != PhaseLobby {
		return E(CodeLobbyNotJoinable, "game already started")
	}
	for _, p := range l.participants {
		if p.Name == c.name {
			return E(CodeNameTaken, "name %q is already taken", c.name)
		}
	}
	id := uuid.New()
	l.participants[id] = &Participant{ID: id, Name: c.name, IsHost: c.host}
	l.joinOrder = append(l.joinOrder, id)
	if c.out != nil {
		*c.out = id
	}
	l.broadcast(ParticipantJoined{Type: TypeParticipantJoined, ParticipantID: id, Name: c.name})
	l.log.WithFields(logrus.Fields{"participant": id, "name": c.name, "host": c.host}).Info("participant joined")
	return nil
}

func (l *Lobby) applyAttach(c attach) error {
	if c.viewer {
		if old, ok := l.viewers[c.id]; ok && old != c.sink {
			old.Close("replaced by new attachment")
		}
		l.viewers[c.id] = c.sink
		c.sink.Send(l.fullState(uuid.Nil))
		return nil
	}
	p, ok := l.participants[c.id]
	if !ok {
		return E(CodeParticipantUnknown, "participant %s not in lobby", c.id)
	}
	if old, ok := l.sinks[c.id]; ok && old != c.sink {
		old.Close("replaced by new attachment")
	}
	l.sinks[c.id] = c.sink
	p.IsAttached = true
	c.sink.Send(l.fullState(c.id))
	return nil
}

func (l *Lobby) applyDetach(c detach) error {
	if cur, ok := l.viewers[c.id]; ok {
		if cur != c.sink {
			return nil
		}
		delete(l.viewers, c.id)
		cur.Close("detached")
		return nil
	}
	p, ok := l.participants[c.id]
	if !ok {
		return E(CodeParticipantUnknown, "participant %s not in lobby", c.id)
	}
	cur, attached := l.sinks[c.id]
	if !attached || cur != c.sink {
		// Stale detach from a connection that was already replaced.
		return nil
	}
	delete(l.sinks, c.id)
	p.IsAttached = false
	return nil
}

func (l *Lobby) applySubmitAnswer(c submitAnswer) error {
	p, ok := l.participants[c.id]
	if !ok {
		return E(CodeParticipantUnknown, "participant %s not in lobby", c.id)
	}
	if l.phase != PhaseQuestion || l.cur == nil {
		return E(CodeInvalidPhase, "no question is open")
	}
	if _, answered := l.cur.Answers[c.id]; answered {
		return E(CodeAlreadyAnswered, "only the first answer counts")
	}

	text, ok := matchAlternative(c.text, l.cur.Alternatives)
	if !ok {
		return E(CodeUnknownAlternative, "%q is not one of the displayed alternatives", c.text)
	}

	elapsed := l.now().Sub(l.cur.StartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > l.cur.Duration {
		elapsed = l.cur.Duration
	}
	correct := containsFold(l.cur.CorrectOptions, text)
	awarded := 0
	if correct {
		awarded = scorePoints(elapsed, l.cur.Duration)
	}
	l.cur.Answers[c.id] = &answer{
		Text:      text,
		ArrivalMS: elapsed.Milliseconds(),
		Correct:   correct,
		Awarded:   awarded,
	}
	// Correctness is not revealed until EndRound; peers only learn that the
	// participant has answered.
	l.broadcast(AnswerReceived{Type: TypeAnswerReceived, ParticipantID: p.ID})
	return nil
}

func (l *Lobby) applyStartGame(c startGame) error {
	if err := l.requireHost(c.issuer); err != nil {
		return err
	}
	if l.phase != PhaseLobby {
		return E(CodeInvalidPhase, "game already started")
	}
	order, err := l.snap.RandomOrder(l.settings.SetID, l.rng)
	if err != nil {
		return E(CodeQuestionNotFound, "question set %q not found", l.settings.SetID)
	}
	if len(order) == 0 {
		return E(CodeEmptyCatalog, "no playable questions")
	}
	l.upcoming = order
	l.phase = PhaseScore
	l.broadcast(PhaseChanged{Type: TypePhaseChanged, Phase: PhaseScore})
	l.log.WithField("questions", len(order)).Info("game started")
	return nil
}

func (l *Lobby) applyStartRound(c startRound) error {
	if err := l.requireHost(c.issuer); err != nil {
		return err
	}
	if l.phase != PhaseLobby && l.phase != PhaseScore {
		return E(CodeInvalidPhase, "cannot start a round from %s", l.phase)
	}
	if len(l.upcoming) == 0 {
		return E(CodeNoMoreQuestions, "the question queue is empty")
	}
	qid := l.upcoming[0]
	l.upcoming = l.upcoming[1:]

	alts, err := l.snap.SampleAlternatives(qid, l.settings.AlternativeCount, l.rng)
	if err != nil {
		return E(CodeQuestionNotFound, "question %q not in catalog", qid)
	}
	corrects, err := l.snap.CorrectOptions(qid)
	if err != nil {
		return E(CodeQuestionNotFound, "question %q not in catalog", qid)
	}

	started := l.now()
	l.cur = &round{
		QuestionID:     qid,
		Alternatives:   alts,
		CorrectOptions: corrects,
		StartedAt:      started,
		Duration:       l.settings.RoundDuration,
		Answers:        make(map[uuid.UUID]*answer),
	}
	l.phase = PhaseQuestion
	l.timer = time.AfterFunc(l.cur.Duration, l.enqueueTick)
	l.broadcast(RoundStarted{
		Type:            TypeRoundStarted,
		QuestionID:      qid,
		Alternatives:    alts,
		DurationMS:      l.cur.Duration.Milliseconds(),
		ServerStartedAt: started.UnixMilli(),
	})
	return nil
}

func (l *Lobby) applyEndRound(c endRound) error {
	if err := l.requireHost(c.issuer); err != nil {
		return err
	}
	if l.phase == PhaseScore {
		// Already ended (double EndRound, or the timer won the race).
		return nil
	}
	if l.phase != PhaseQuestion {
		return E(CodeInvalidPhase, "no round to end")
	}
	l.finishRound()
	return nil
}

func (l *Lobby) applyTick() error {
	if l.phase != PhaseQuestion || l.cur == nil {
		return nil
	}
	if l.now().Before(l.cur.StartedAt.Add(l.cur.Duration)) {
		// Stale timer from an earlier round; the deadline check makes it inert.
		return nil
	}
	l.finishRound()
	return nil
}

// finishRound freezes the current round, reveals answers, awards points and
// transitions to Score.
func (l *Lobby) finishRound() {
	l.stopTimer()
	per := make([]ParticipantPoints, 0, len(l.joinOrder))
	for _, id := range l.joinOrder {
		p, ok := l.participants[id]
		if !ok {
			continue
		}
		delta := 0
		if a, answered := l.cur.Answers[id]; answered && a.Correct {
			delta = a.Awarded
		}
		p.Score += delta
		p.LastRoundScore = delta
		per = append(per, ParticipantPoints{ParticipantID: id, Delta: delta, Total: p.Score})
	}
	correct := l.cur.CorrectOptions
	l.cur = nil
	l.phase = PhaseScore
	l.broadcast(RoundEnded{Type: TypeRoundEnded, CorrectOptions: correct, PerParticipant: per})
}

func (l *Lobby) applySkipQuestion(c skipQuestion) error {
	if err := l.requireHost(c.issuer); err != nil {
		return err
	}
	if l.phase != PhaseLobby && l.phase != PhaseScore {
		return E(CodeInvalidPhase, "cannot skip from %s", l.phase)
	}
	if len(l.upcoming) == 0 {
		return E(CodeNoMoreQuestions, "the question queue is empty")
	}
	skipped := l.upcoming[0]
	l.upcoming = l.upcoming[1:]
	l.log.WithField("question", skipped).Info("question skipped")
	return nil
}

func (l *Lobby) applyEndGame(c endGame) error {
	if err := l.requireHost(c.issuer); err != nil {
		return err
	}
	if l.phase == PhaseGameOver {
		return E(CodeInvalidPhase, "game is already over")
	}
	l.stopTimer()
	l.cur = nil
	l.phase = PhaseGameOver
	l.broadcast(GameEnded{Type: TypeGameEnded, Final: l.finalStandings()})
	return nil
}

func (l *Lobby) applyRemoveParticipant(c removeParticipant) error {
	// Self-removal (Leave) needs no host privilege.
	if c.issuer != c.target {
		if err := l.requireHost(c.issuer); err != nil {
			return err
		}
	} else if _, ok := l.participants[c.issuer]; !ok {
		return E(CodeParticipantUnknown, "participant %s not in lobby", c.issuer)
	}
	if l.phase == PhaseGameOver {
		return E(CodeInvalidPhase, "game is over")
	}
	target, ok := l.participants[c.target]
	if !ok {
		return E(CodeParticipantUnknown, "participant %s not in lobby", c.target)
	}
	if target.IsHost {
		return E(CodeUnauthorized, "the host cannot be removed")
	}
	l.removeParticipantState(c.target, "removed from lobby")
	return nil
}

// Leave removes the issuing participant voluntarily. The host cannot leave
// this way; a host that disconnects simply detaches and may reattach later.
func (l *Lobby) Leave(participantID uuid.UUID) error {
	return l.do(removeParticipant{issuer: participantID, target: participantID})
}

func (l *Lobby) removeParticipantState(id uuid.UUID, reason string) {
	if sink, ok := l.sinks[id]; ok {
		delete(l.sinks, id)
		sink.Close(reason)
	}
	delete(l.participants, id)
	for i, oid := range l.joinOrder {
		if oid == id {
			l.joinOrder = append(l.joinOrder[:i], l.joinOrder[i+1:]...)
			break
		}
	}
	if l.cur != nil {
		delete(l.cur.Answers, id)
	}
	l.broadcast(ParticipantLeft{Type: TypeParticipantLeft, ParticipantID: id})
}

func (l *Lobby) applyCloseCmd(c closeLobby) error {
	if !c.system {
		if err := l.requireHost(c.issuer); err != nil {
			return err
		}
	}
	l.applyClose(c.reason)
	return nil
}

// applyClose severs all attachments and shuts the loop down. Safe to call
// from the panic-recovery path.
func (l *Lobby) applyClose(reason string) {
	if l.closed {
		return
	}
	l.closed = true
	l.stopTimer()
	l.broadcast(LobbyClosed{Type: TypeLobbyClosed, Reason: reason})
	for id, sink := range l.sinks {
		delete(l.sinks, id)
		sink.Close(reason)
	}
	for id, sink := range l.viewers {
		delete(l.viewers, id)
		sink.Close(reason)
	}
	close(l.done)
	l.log.WithField("reason", reason).Info("lobby closed")
	if l.onClose != nil {
		// The registry callback takes the registry lock; run it off the loop
		// so Close callers holding that lock cannot deadlock.
		go l.onClose(l)
	}
}

func (l *Lobby) stopTimer() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

// --- views ------------------------------------------------------------------

// remove-participant ordering note: joinOrder drives every participant
// listing, so per-round results and scoreboards are deterministic.
func (l *Lobby) fullState(you uuid.UUID) FullState {
	fs := FullState{
		Type:     TypeFullState,
		LobbyID:  l.ID,
		JoinCode: l.JoinCode,
		Phase:    l.phase,
		You:      you,
	}
	for _, id := range l.joinOrder {
		p, ok := l.participants[id]
		if !ok {
			continue
		}
		fs.Participants = append(fs.Participants, ParticipantState{
			ParticipantID:  p.ID,
			Name:           p.Name,
			Score:          p.Score,
			LastRoundScore: p.LastRoundScore,
			IsHost:         p.IsHost,
			IsAttached:     p.IsAttached,
		})
	}
	if l.cur != nil {
		rs := &RoundState{
			QuestionID:      l.cur.QuestionID,
			Alternatives:    l.cur.Alternatives,
			DurationMS:      l.cur.Duration.Milliseconds(),
			ServerStartedAt: l.cur.StartedAt.UnixMilli(),
		}
		for _, id := range l.joinOrder {
			if _, ok := l.cur.Answers[id]; ok {
				rs.Answered = append(rs.Answered, id)
			}
		}
		fs.Round = rs
	}
	return fs
}

func (l *Lobby) finalStandings() []FinalStanding {
	out := make([]FinalStanding, 0, len(l.joinOrder))
	for _, id := range l.joinOrder {
		if p, ok := l.participants[id]; ok {
			out = append(out, FinalStanding{ParticipantID: p.ID, Name: p.Name, Score: p.Score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// broadcast fans a delta out to every attachment. A sink that cannot accept
// the message is force-dropped; the lobby never waits on a slow client.
func (l *Lobby) broadcast(msg any) {
	for id, sink := range l.sinks {
		if !sink.Send(msg) {
			l.log.WithField("participant", id).Warn("dropping slow attachment")
			delete(l.sinks, id)
			if p, ok := l.participants[id]; ok {
				p.IsAttached = false
			}
			sink.Close("outbound queue overflow")
		}
	}
	for id, sink := range l.viewers {
		if !sink.Send(msg) {
			delete(l.viewers, id)
			sink.Close("outbound queue overflow")
		}
	}
}

// --- scoring ----------------------------------------------------------------

// scorePoints implements the arrival-time score: 5000 at t=0 falling
// linearly to 0 at t=duration, rounded to the nearest integer.
func scorePoints(elapsed, duration time.Duration) int {
	if duration <= 0 {
		return 0
	}
	frac := 1 - float64(elapsed)/float64(duration)
	return int(math.Round(5000 * frac))
}

// matchAlternative resolves submitted text against the displayed
// alternatives, returning the canonical alternative text.
func matchAlternative(text string, alternatives []string) (string, bool) {
	for _, alt := range alternatives {
		if foldEqual(alt, text) {
			return alt, true
		}
	}
	return "", false
}

func containsFold(list []string, text string) bool {
	for _, s := range list {
		if foldEqual(s, text) {
			return true
		}
	}
	return false
}

func foldEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
