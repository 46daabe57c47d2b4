// Package reconcile は認識結果の連続をユーザー向けの通知に変換する
//
// 同じ人物の結果はカメラの前にいる間ずっと届き続けるため、
// 到着1回につき通知1回となるように間引く。
//
//   - 別人、または初回: 即通知
//   - 同一人物で Suppress 未満: 何もしない
//   - 同一人物で Suppress 以上 Refresh 未満: 表示のみ静かに更新
//   - 同一人物で Refresh 以上: 再通知
package reconcile

import (
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"presensi/internal/protocol"
	"presensi/internal/timeutil"
)

// Config は間引きの閾値
type Config struct {
	Suppress time.Duration `yaml:"suppress"` // この間隔未満の同一人物は無視する
	Refresh  time.Duration `yaml:"refresh"`  // この間隔以上経過した同一人物は再通知する
}

// DefaultConfig はデフォルト設定を返す
func DefaultConfig() Config {
	return Config{
		Suppress: 5 * time.Second,
		Refresh:  20 * time.Second,
	}
}

// Validate は設定値を検証する
func (c Config) Validate() error {
	if c.Suppress < 0 {
		return fmt.Errorf("suppressは0以上である必要があります")
	}
	if c.Refresh < c.Suppress {
		return fmt.Errorf("refresh(%v)はsuppress(%v)以上である必要があります", c.Refresh, c.Suppress)
	}
	return nil
}

// Outcome は1件の結果に対する処理内容
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeNotified
	OutcomeSuppressed
	OutcomeQuietUpdate
)

// String は処理内容の名前を返す
func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeNotified:
		return "notified"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeQuietUpdate:
		return "quiet_update"
	default:
		return "unknown"
	}
}

// DebounceWindow は直近の通知の記録
type DebounceWindow struct {
	LastSubjectID  protocol.SubjectID `json:"last_subject_id,omitempty"`
	LastNotifiedAt time.Time          `json:"last_notified_at,omitempty"`
	Suppress       time.Duration      `json:"suppress"`
	Refresh        time.Duration      `json:"refresh"`
}

// Display は画面に表示中の出欠記録
type Display struct {
	SubjectID  protocol.SubjectID `json:"subject_id"`
	Name       string             `json:"name"`
	Status     string             `json:"status"`
	ObservedAt time.Time          `json:"observed_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Notification はユーザーに一度だけ見せる歓迎メッセージ
type Notification struct {
	SubjectID  protocol.SubjectID `json:"subject_id"`
	Name       string             `json:"name"`
	Status     string             `json:"status"`
	Title      string             `json:"title"`
	Message    string             `json:"message"`
	ObservedAt time.Time          `json:"observed_at"`
	At         time.Time          `json:"at"`
}

// Reconciler は認識結果を到着順に処理する
type Reconciler struct {
	clock timeutil.Clock

	mu      sync.RWMutex
	window  DebounceWindow
	display *Display
	visible bool
	// 人物ごとの直近のステータス（クールダウン応答を除く）
	statuses map[protocol.SubjectID]string

	listenerMu      sync.RWMutex
	notifyListeners []func(Notification)
	updateListeners []func(Display)
}

// New は新しいReconcilerを作成する
func New(config Config, clock timeutil.Clock) *Reconciler {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Reconciler{
		clock:    clock,
		statuses: make(map[protocol.SubjectID]string),
		window: DebounceWindow{
			Suppress: config.Suppress,
			Refresh:  config.Refresh,
		},
	}
}

// OnNotify は通知のリスナーを登録する
func (r *Reconciler) OnNotify(fn func(Notification)) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.notifyListeners = append(r.notifyListeners, fn)
}

// OnUpdate は静かな表示更新のリスナーを登録する
func (r *Reconciler) OnUpdate(fn func(Display)) {
	r.listenerMu.Lock()
	defer r.listenerMu.Unlock()
	r.updateListeners = append(r.updateListeners, fn)
}

// HandlePayload はチャンネルから受け取ったペイロードを処理する
func (r *Reconciler) HandlePayload(payload json.RawMessage) {
	res, err := protocol.DecodeAttendanceResult(payload)
	if err != nil {
		log.Printf("認識結果を無視します: %v", err)
		return
	}
	r.Handle(res)
}

// Handle は1件の認識結果を処理する
func (r *Reconciler) Handle(res protocol.AttendanceResult) Outcome {
	now := r.clock.Now()

	r.mu.Lock()
	if !res.Recognized() {
		// 未登録の顔は映っているので登録撮影を許可する
		r.visible = res.IsUnknownFace()
		r.mu.Unlock()
		return OutcomeIgnored
	}
	r.visible = true

	subject := *res.Subject
	outcome := r.classify(subject.ID, now)

	var (
		display      Display
		notification Notification
	)
	switch outcome {
	case OutcomeNotified:
		display = r.updateDisplay(subject, now)
		r.window.LastSubjectID = subject.ID
		r.window.LastNotifiedAt = now
		notification = newNotification(display, now)
	case OutcomeQuietUpdate:
		display = r.updateDisplay(subject, now)
	}
	r.mu.Unlock()

	switch outcome {
	case OutcomeNotified:
		log.Printf("出欠を通知: %s (%s) %s", display.Name, display.SubjectID, display.Status)
		r.emitNotify(notification)
	case OutcomeQuietUpdate:
		r.emitUpdate(display)
	}
	return outcome
}

// classify は通知・抑制・静かな更新のどれにあたるかを決める
func (r *Reconciler) classify(id protocol.SubjectID, now time.Time) Outcome {
	if r.window.LastNotifiedAt.IsZero() || r.window.LastSubjectID != id {
		return OutcomeNotified
	}
	elapsed := now.Sub(r.window.LastNotifiedAt)
	switch {
	case elapsed >= r.window.Refresh:
		return OutcomeNotified
	case elapsed < r.window.Suppress:
		return OutcomeSuppressed
	default:
		return OutcomeQuietUpdate
	}
}

// updateDisplay は表示中の記録を更新する
// 認識サービス側のクールダウン応答ではその人物の直前のステータスを維持する
func (r *Reconciler) updateDisplay(subject protocol.Subject, now time.Time) Display {
	status := subject.Status
	if status == protocol.StatusCooldown {
		if prev, ok := r.statuses[subject.ID]; ok {
			status = prev
		}
	} else if status != "" {
		r.statuses[subject.ID] = status
	}

	observedAt := subject.ObservedAt.Time
	if observedAt.IsZero() {
		observedAt = now
	}

	d := Display{
		SubjectID:  subject.ID,
		Name:       subject.Name,
		Status:     status,
		ObservedAt: observedAt,
		UpdatedAt:  now,
	}
	r.display = &d
	return d
}

func newNotification(d Display, now time.Time) Notification {
	return Notification{
		SubjectID:  d.SubjectID,
		Name:       d.Name,
		Status:     d.Status,
		Title:      fmt.Sprintf("Selamat Datang, %s!", d.Name),
		Message:    fmt.Sprintf("Presensi tercatat: %s", d.ObservedAt.Format("15:04:05")),
		ObservedAt: d.ObservedAt,
		At:         now,
	}
}

// FaceVisible は直近の結果で顔が映っていたかどうかを返す
func (r *Reconciler) FaceVisible() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.visible
}

// Display は表示中の記録を返す
func (r *Reconciler) Display() (Display, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.display == nil {
		return Display{}, false
	}
	return *r.display, true
}

// Window は間引きの状態を返す
func (r *Reconciler) Window() DebounceWindow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.window
}

// Reset は表示と間引きの記録を消去する
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.window.LastSubjectID = ""
	r.window.LastNotifiedAt = time.Time{}
	r.display = nil
	r.visible = false
	clear(r.statuses)
}

func (r *Reconciler) emitNotify(n Notification) {
	r.listenerMu.RLock()
	listeners := slices.Clone(r.notifyListeners)
	r.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(n)
	}
}

func (r *Reconciler) emitUpdate(d Display) {
	r.listenerMu.RLock()
	listeners := slices.Clone(r.updateListeners)
	r.listenerMu.RUnlock()

	for _, fn := range listeners {
		fn(d)
	}
}
