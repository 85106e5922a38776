package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/BTreeMap/Secretario/internal/i18n"
	"github.com/BTreeMap/Secretario/internal/models"
	"github.com/BTreeMap/Secretario/internal/testutil"
)

const testUser = "tg:100"

type harness struct {
	conv      *Conversation
	sessions  *InMemorySessionManager
	gen       *testutil.StubGenerator
	tracker   *testutil.StubTracker
	factories int
}

func newHarness(t *testing.T, outputs ...string) *harness {
	t.Helper()
	h := &harness{
		sessions: NewInMemorySessionManager(),
		gen:      testutil.NewStubGenerator(outputs...),
		tracker:  testutil.NewStubTracker(),
	}
	factory := TrackerFactoryFunc(func(token string) (TaskTracker, error) {
		h.factories++
		return h.tracker, nil
	})
	h.conv = NewConversation(h.sessions, h.gen, factory, WithAdapterTimeout(time.Second))
	return h
}

func (h *harness) send(t *testing.T, ev models.Event) []models.Reply {
	t.Helper()
	if ev.UserID == "" {
		ev.UserID = testUser
	}
	replies, err := h.conv.HandleEvent(context.Background(), ev)
	if err != nil {
		t.Fatalf("HandleEvent(%+v) error = %v", ev, err)
	}
	return replies
}

func (h *harness) session(t *testing.T) models.Session {
	t.Helper()
	s, err := h.sessions.Get(context.Background(), testUser)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func (h *harness) link(t *testing.T, token string) {
	t.Helper()
	h.send(t, command(CommandLink, ""))
	h.send(t, text(token))
}

func command(name, args string) models.Event {
	return models.Event{Kind: models.EventCommand, Command: name, Args: args}
}

func button(payload string) models.Event {
	return models.Event{Kind: models.EventButton, Payload: payload}
}

func text(body string) models.Event {
	return models.Event{Kind: models.EventText, Text: body}
}

func catalogText(lang models.Language, key i18n.Key, args ...any) string {
	return i18n.Default().Text(lang, key, args...)
}

func TestStartOffersLanguages(t *testing.T) {
	h := newHarness(t)
	replies := h.send(t, command(CommandStart, ""))
	want := []models.Reply{{
		Text: catalogText(models.LanguageUnset, i18n.Greeting),
		Buttons: [][]models.Button{{
			{Label: "ES - Español", Payload: PayloadLangES},
			{Label: "GB - English", Payload: PayloadLangGB},
		}},
	}}
	if diff := cmp.Diff(want, replies); diff != "" {
		t.Errorf("start replies mismatch (-want +got):\n%s", diff)
	}
	if !h.session(t).Greeted {
		t.Error("start did not mark the session greeted")
	}
}

func TestSelectLanguageConfirmsThenHelps(t *testing.T) {
	h := newHarness(t)
	replies := h.send(t, button(PayloadLangES))
	if len(replies) != 2 {
		t.Fatalf("got %d replies, want 2", len(replies))
	}
	if replies[0].Text != catalogText(models.LanguageES, i18n.LanguageSet) {
		t.Errorf("first reply = %q", replies[0].Text)
	}
	if replies[1].Text != catalogText(models.LanguageES, i18n.Help) {
		t.Errorf("second reply = %q", replies[1].Text)
	}
	payloads := []string{}
	for _, b := range replies[1].FlatButtons() {
		payloads = append(payloads, b.Payload)
	}
	if diff := cmp.Diff([]string{"cmd_daily", "cmd_recommend", "cmd_link"}, payloads); diff != "" {
		t.Errorf("help buttons mismatch (-want +got):\n%s", diff)
	}
}

func TestLanguageLastWriteWins(t *testing.T) {
	h := newHarness(t)
	h.send(t, button(PayloadLangES))
	h.send(t, button(PayloadLangGB))
	if got := h.session(t).Language; got != models.LanguageGB {
		t.Errorf("Language = %q, want GB", got)
	}
	replies := h.send(t, command(CommandHelp, ""))
	if replies[0].Text != catalogText(models.LanguageGB, i18n.Help) {
		t.Errorf("help rendered in wrong language: %q", replies[0].Text)
	}
}

func TestDailyWithoutTokenNeverBuildsTracker(t *testing.T) {
	h := newHarness(t)
	replies := h.send(t, command(CommandDaily, ""))
	if len(replies) != 1 || replies[0].Text != catalogText(models.LanguageUnset, i18n.LinkFirst) {
		t.Fatalf("replies = %+v", replies)
	}
	if h.factories != 0 || h.tracker.ListProjectsCalls != 0 {
		t.Errorf("tracker used without token: factories=%d listProjects=%d", h.factories, h.tracker.ListProjectsCalls)
	}
}

func TestDailyOffersAtMostTenProjectsPlusCancel(t *testing.T) {
	h := newHarness(t)
	h.tracker.Projects = testutil.MakeProjects(12)
	h.link(t, "tok")

	replies := h.send(t, command(CommandDaily, ""))
	if len(replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(replies))
	}
	buttons := replies[0].FlatButtons()
	if len(buttons) != MaxListedItems+1 {
		t.Fatalf("got %d buttons, want %d", len(buttons), MaxListedItems+1)
	}
	for i, b := range buttons[:MaxListedItems] {
		if !strings.HasPrefix(b.Payload, PayloadPickProject) {
			t.Errorf("button %d payload = %q", i, b.Payload)
		}
	}
	if last := buttons[len(buttons)-1]; last.Payload != PayloadCancelProject {
		t.Errorf("last button payload = %q, want cancel", last.Payload)
	}
	if h.tracker.ListProjectsCalls != 1 {
		t.Errorf("ListProjects called %d times, want 1", h.tracker.ListProjectsCalls)
	}
	if len(h.tracker.ListTasksCalls) != 0 {
		t.Error("tasks listed before a project was picked")
	}
}

func TestDailySkipsProjectsWithOversizedIDs(t *testing.T) {
	h := newHarness(t)
	long := models.Project{ID: strings.Repeat("7", 70), Name: "Huge id"}
	h.tracker.Projects = append([]models.Project{long}, testutil.MakeProjects(MaxListedItems)...)
	h.link(t, "tok")

	replies := h.send(t, command(CommandDaily, ""))
	if len(replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(replies))
	}
	if err := replies[0].Validate(); err != nil {
		t.Fatalf("project menu is not sendable: %v", err)
	}
	buttons := replies[0].FlatButtons()
	if len(buttons) != MaxListedItems+1 {
		t.Fatalf("got %d buttons, want %d", len(buttons), MaxListedItems+1)
	}
	if buttons[0].Payload != PayloadPickProject+"p1" {
		t.Errorf("first project payload = %q, want %q", buttons[0].Payload, PayloadPickProject+"p1")
	}
}

func TestDailyOnlyOversizedProjects(t *testing.T) {
	h := newHarness(t)
	h.tracker.Projects = []models.Project{{ID: strings.Repeat("7", 70), Name: "Huge id"}}
	h.link(t, "tok")
	replies := h.send(t, command(CommandDaily, ""))
	if len(replies) != 1 || replies[0].Text != catalogText(models.LanguageUnset, i18n.NoProjects) {
		t.Fatalf("replies = %+v", replies)
	}
}

func TestDailyNoProjects(t *testing.T) {
	h := newHarness(t)
	h.link(t, "tok")
	replies := h.send(t, command(CommandDaily, ""))
	if len(replies) != 1 || replies[0].Text != catalogText(models.LanguageUnset, i18n.NoProjects) {
		t.Fatalf("replies = %+v", replies)
	}
}

func TestPickProjectStoresAndListsImmediately(t *testing.T) {
	h := newHarness(t)
	h.tracker.Tasks["p42"] = testutil.MakeTasks(15)
	h.link(t, "tok")

	replies := h.send(t, button("pick_proj:p42"))
	if got := h.session(t).SelectedProject; got != "p42" {
		t.Errorf("SelectedProject = %q, want p42", got)
	}
	if diff := cmp.Diff([]string{"p42"}, h.tracker.ListTasksCalls); diff != "" {
		t.Errorf("ListTasks calls mismatch (-want +got):\n%s", diff)
	}
	if len(replies) != 1 || replies[0].ParseMode != models.ParseModeHTML {
		t.Fatalf("replies = %+v", replies)
	}
	if n := strings.Count(replies[0].Text, "• "); n != MaxListedItems {
		t.Errorf("rendered %d bullets, want %d", n, MaxListedItems)
	}
	if !strings.HasPrefix(replies[0].Text, "<b>") {
		t.Errorf("header not bold: %q", replies[0].Text)
	}
}

func TestDailyWithProjectSkipsSelection(t *testing.T) {
	h := newHarness(t)
	h.tracker.Tasks["p1"] = []models.Task{{ID: "1", Name: "Pay <rent> & bills"}}
	h.link(t, "tok")
	h.send(t, button("pick_proj:p1"))

	replies := h.send(t, command(CommandDaily, ""))
	if h.tracker.ListProjectsCalls != 0 {
		t.Error("project list requested although a project is selected")
	}
	want := "<b>" + catalogText(models.LanguageUnset, i18n.TasksHeader) + "</b>\n• Pay &lt;rent&gt; &amp; bills"
	if replies[0].Text != want {
		t.Errorf("task list = %q, want %q", replies[0].Text, want)
	}
}

func TestDailyNoTasks(t *testing.T) {
	h := newHarness(t)
	h.link(t, "tok")
	replies := h.send(t, button("pick_proj:empty"))
	if len(replies) != 1 || replies[0].Text != catalogText(models.LanguageUnset, i18n.NoTasks) {
		t.Fatalf("replies = %+v", replies)
	}
}

func TestPickProjectWithoutTokenIsRejected(t *testing.T) {
	h := newHarness(t)
	replies := h.send(t, button("pick_proj:p1"))
	if len(replies) != 1 || replies[0].Text != catalogText(models.LanguageUnset, i18n.LinkFirst) {
		t.Fatalf("replies = %+v", replies)
	}
	if h.session(t).HasProject() {
		t.Error("project stored without a linked token")
	}
}

func TestCancelProjectLeavesProjectUnset(t *testing.T) {
	h := newHarness(t)
	h.link(t, "tok")
	h.send(t, command(CommandDaily, ""))
	if replies := h.send(t, button(PayloadCancelProject)); len(replies) != 0 {
		t.Fatalf("cancel replies = %+v, want none", replies)
	}
	if h.session(t).HasProject() {
		t.Error("cancel mutated the selected project")
	}
}

func TestCredentialCaptureConsumesExactlyNextText(t *testing.T) {
	h := newHarness(t, "False", "Hi there!")
	replies := h.send(t, command(CommandLink, ""))
	if replies[0].Text != catalogText(models.LanguageUnset, i18n.LinkPrompt) || !h.session(t).AwaitingToken {
		t.Fatalf("link did not start awaiting: %+v", replies)
	}

	replies = h.send(t, text("  daily  "))
	s := h.session(t)
	if s.AwaitingToken || s.LinkedToken != "daily" {
		t.Fatalf("session after capture = %+v", s)
	}
	if replies[0].Text != catalogText(models.LanguageUnset, i18n.LinkConfirmed) {
		t.Errorf("confirmation = %q", replies[0].Text)
	}
	if h.gen.Calls() != 0 {
		t.Error("token text was sent to the generator")
	}

	replies = h.send(t, text("hello"))
	if h.session(t).LinkedToken != "daily" {
		t.Error("second text overwrote the token")
	}
	if h.gen.Calls() != 2 || replies[0].Text != "Hi there!" {
		t.Errorf("second text not routed to conversation: calls=%d replies=%+v", h.gen.Calls(), replies)
	}
}

func TestCommandWhileAwaitingTokenKeepsFlag(t *testing.T) {
	h := newHarness(t)
	h.send(t, command(CommandLink, ""))
	h.send(t, command(CommandHelp, ""))
	if !h.session(t).AwaitingToken {
		t.Error("command consumed the pending token capture")
	}
}

func TestWhitespaceTokenClearsFlag(t *testing.T) {
	h := newHarness(t)
	h.send(t, command(CommandLink, ""))
	replies := h.send(t, text("   "))
	s := h.session(t)
	if s.AwaitingToken || s.HasToken() {
		t.Errorf("session = %+v", s)
	}
	if replies[0].Text != catalogText(models.LanguageUnset, i18n.LinkEmpty) {
		t.Errorf("reply = %q", replies[0].Text)
	}
}

func TestCredentialsArePerUser(t *testing.T) {
	h := newHarness(t)
	h.send(t, command(CommandLink, ""))
	h.send(t, models.Event{UserID: "tg:200", Kind: models.EventText, Text: "not a token"})
	if !h.session(t).AwaitingToken {
		t.Error("another user's text consumed this user's token capture")
	}
	other, _ := h.sessions.Get(context.Background(), "tg:200")
	if other.HasToken() {
		t.Error("token stored for the wrong user")
	}
}

func TestIntentClassification(t *testing.T) {
	tests := []struct {
		name       string
		classifier string
		wantOffer  bool
	}{
		{"True", "True", true},
		{"upper", "TRUE", true},
		{"lower padded", "  true\n", true},
		{"False", "False", false},
		{"empty", "", false},
		{"sentence", "true, the user asks for tasks", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.classifier, "generated reply")
			h.send(t, button(PayloadLangES))
			replies := h.send(t, text("what should I do today?"))
			if len(replies) != 1 || replies[0].Text != "generated reply" {
				t.Fatalf("replies = %+v", replies)
			}
			second := h.gen.Prompts[1]
			isOffer := strings.HasPrefix(second, "Given the following message")
			if isOffer != tt.wantOffer {
				t.Errorf("help-offer branch = %v, want %v (prompt %q)", isOffer, tt.wantOffer, second)
			}
			if !strings.Contains(second, "Spanish") {
				t.Errorf("prompt not localized to Spanish: %q", second)
			}
		})
	}
}

func TestClassificationFailureTakesConversationalBranch(t *testing.T) {
	h := newHarness(t, "", "hello back")
	h.gen.Errors[0] = errors.New("backend down")
	replies := h.send(t, text("hi"))
	if replies[0].Text != "hello back" {
		t.Fatalf("replies = %+v", replies)
	}
	if !strings.HasPrefix(h.gen.Prompts[1], "Reply to the following message in English") {
		t.Errorf("second prompt = %q", h.gen.Prompts[1])
	}
}

func TestGenerationFailureApologizes(t *testing.T) {
	h := newHarness(t, "False")
	h.gen.Errors[1] = errors.New("backend down")
	h.send(t, button(PayloadLangES))
	replies := h.send(t, text("hola"))
	if len(replies) != 1 || replies[0].Text != catalogText(models.LanguageES, i18n.GenericError) {
		t.Fatalf("replies = %+v", replies)
	}
}

func TestUnknownInputIsDropped(t *testing.T) {
	h := newHarness(t)
	h.send(t, button(PayloadLangES))
	before := h.session(t)

	for _, ev := range []models.Event{
		button("xyz_unknown"),
		button("cmd_newtask"),
		button("cmd_nope"),
		button("pick_proj:"),
		command("settings", ""),
	} {
		if replies := h.send(t, ev); len(replies) != 0 {
			t.Errorf("event %+v produced replies %+v", ev, replies)
		}
	}
	after := h.session(t)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("session mutated (-before +after):\n%s", diff)
	}
}

func TestCommandButtonsReinvokeCommands(t *testing.T) {
	h := newHarness(t)
	replies := h.send(t, button("cmd_link"))
	if replies[0].Text != catalogText(models.LanguageUnset, i18n.LinkPrompt) || !h.session(t).AwaitingToken {
		t.Errorf("cmd_link replies = %+v", replies)
	}
}

func TestLifecycleGreetsOnce(t *testing.T) {
	h := newHarness(t)
	lifecycle := models.Event{Kind: models.EventLifecycle}
	if replies := h.send(t, lifecycle); len(replies) != 1 || len(replies[0].Buttons) != 1 {
		t.Fatalf("first lifecycle replies = %+v", replies)
	}
	if replies := h.send(t, lifecycle); len(replies) != 0 {
		t.Errorf("second lifecycle replies = %+v", replies)
	}
	h.send(t, command(CommandHelp, ""))
	if replies := h.send(t, command(CommandStart, "")); len(replies) != 1 {
		t.Errorf("explicit start after lifecycle = %+v", replies)
	}
}

func TestJoinThenStartGreetsOnce(t *testing.T) {
	h := newHarness(t)
	if replies := h.send(t, models.Event{Kind: models.EventLifecycle}); len(replies) != 1 {
		t.Fatalf("join replies = %+v", replies)
	}
	if replies := h.send(t, command(CommandStart, "")); len(replies) != 0 {
		t.Errorf("start right after join greeting = %+v, want none", replies)
	}
	if h.session(t).JoinGreetingPending {
		t.Error("join greeting marker not cleared")
	}
	if replies := h.send(t, command(CommandStart, "")); len(replies) != 1 || replies[0].Text != catalogText(models.LanguageUnset, i18n.Greeting) {
		t.Errorf("later start replies = %+v", replies)
	}
}

func TestJoinGreetingMarkerClearedByOtherEvents(t *testing.T) {
	h := newHarness(t)
	h.send(t, models.Event{Kind: models.EventLifecycle})
	h.send(t, button(PayloadLangGB))
	if replies := h.send(t, command(CommandStart, "")); len(replies) != 1 {
		t.Errorf("start after language pick = %+v, want greeting", replies)
	}
}

func TestRecommendUsesPendingTasks(t *testing.T) {
	h := newHarness(t, "Start with Task 1.")
	h.tracker.Tasks["p1"] = testutil.MakeTasks(3)
	h.link(t, "tok")
	h.send(t, button("pick_proj:p1"))

	replies := h.send(t, command(CommandRecommend, ""))
	if replies[0].Text != "Start with Task 1." {
		t.Fatalf("replies = %+v", replies)
	}
	if !strings.Contains(h.gen.Prompts[0], "- Task 3") {
		t.Errorf("prompt missing tasks: %q", h.gen.Prompts[0])
	}
}

func TestRecommendWithoutTrackerGivesGeneralTips(t *testing.T) {
	h := newHarness(t, "Make a list.")
	replies := h.send(t, command(CommandRecommend, ""))
	if replies[0].Text != "Make a list." {
		t.Fatalf("replies = %+v", replies)
	}
	if h.factories != 0 {
		t.Error("tracker created without a token")
	}
	if !strings.Contains(h.gen.Prompts[0], "tips") {
		t.Errorf("prompt = %q", h.gen.Prompts[0])
	}
}

func TestRecommendTrackerFailureFallsBack(t *testing.T) {
	h := newHarness(t, "tips")
	h.link(t, "tok")
	h.send(t, button("pick_proj:p1"))
	h.tracker.Err = errors.New("asana down")
	replies := h.send(t, command(CommandRecommend, ""))
	if replies[0].Text != "tips" {
		t.Fatalf("replies = %+v", replies)
	}
}

func TestNewTaskPreconditions(t *testing.T) {
	h := newHarness(t)
	if r := h.send(t, command(CommandNewTask, "x")); r[0].Text != catalogText(models.LanguageUnset, i18n.LinkFirst) {
		t.Errorf("no token reply = %q", r[0].Text)
	}
	h.link(t, "tok")
	if r := h.send(t, command(CommandNewTask, "x")); r[0].Text != catalogText(models.LanguageUnset, i18n.NewTaskNeedProject) {
		t.Errorf("no project reply = %q", r[0].Text)
	}
	h.send(t, button("pick_proj:p1"))
	if r := h.send(t, command(CommandNewTask, "  ")); r[0].Text != catalogText(models.LanguageUnset, i18n.NewTaskUsage) {
		t.Errorf("empty name reply = %q", r[0].Text)
	}
	if len(h.tracker.Created) != 0 {
		t.Error("task created despite failed preconditions")
	}
}

func TestNewTaskCreatesInSelectedProject(t *testing.T) {
	h := newHarness(t)
	h.link(t, "tok")
	h.send(t, button(PayloadLangES))
	h.send(t, button("pick_proj:p7"))
	replies := h.send(t, command(CommandNewTask, "Comprar pan"))
	if replies[0].Text != catalogText(models.LanguageES, i18n.NewTaskCreated, "Comprar pan") {
		t.Errorf("reply = %q", replies[0].Text)
	}
	if got := h.tracker.Tasks["p7"]; len(got) != 1 || got[0].Name != "Comprar pan" {
		t.Errorf("tasks in p7 = %+v", got)
	}
}

func TestTrackerFailureApologizes(t *testing.T) {
	h := newHarness(t)
	h.link(t, "tok")
	h.tracker.Err = errors.New("unauthorized")
	replies := h.send(t, command(CommandDaily, ""))
	if len(replies) != 1 || replies[0].Text != catalogText(models.LanguageUnset, i18n.GenericError) {
		t.Fatalf("replies = %+v", replies)
	}
}

func TestAdapterTimeoutIsApplied(t *testing.T) {
	sessions := NewInMemorySessionManager()
	slow := GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	conv := NewConversation(sessions, slow, TrackerFactoryFunc(func(string) (TaskTracker, error) {
		return testutil.NewStubTracker(), nil
	}), WithAdapterTimeout(10*time.Millisecond))

	replies, err := conv.HandleEvent(context.Background(), models.Event{UserID: testUser, Kind: models.EventText, Text: "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if len(replies) != 1 || replies[0].Text != catalogText(models.LanguageUnset, i18n.GenericError) {
		t.Fatalf("replies = %+v", replies)
	}
}

func TestInvalidEventIsRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.conv.HandleEvent(context.Background(), models.Event{Kind: models.EventText})
	if !errors.Is(err, models.ErrEmptyUserID) {
		t.Errorf("error = %v, want ErrEmptyUserID", err)
	}
}

func TestRepliesAreValid(t *testing.T) {
	h := newHarness(t, "False", "ok")
	h.tracker.Projects = []models.Project{{ID: "1", Name: strings.Repeat("long name ", 20)}}
	h.link(t, "tok")
	events := []models.Event{
		command(CommandStart, ""), button(PayloadLangGB), command(CommandDaily, ""), text("hi"),
	}
	for _, ev := range events {
		for _, r := range h.send(t, ev) {
			if err := r.Validate(); err != nil {
				t.Errorf("event %+v produced invalid reply %+v: %v", ev, r, err)
			}
		}
	}
}
