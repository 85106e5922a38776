package flow

import (
	"context"
	"html"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/Secretario/internal/i18n"
	"github.com/BTreeMap/Secretario/internal/models"
)

// daily runs the daily-tasks flow: link first, then pick a project, then list tasks.
func (c *Conversation) daily(ctx context.Context, userID string) ([]models.Reply, error) {
	sess, err := c.sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sess.HasToken() {
		return []models.Reply{c.text(sess.Language, i18n.LinkFirst)}, nil
	}
	tracker, err := c.trackers.NewTracker(sess.LinkedToken)
	if err != nil {
		slog.Error("Conversation.daily: failed to create tracker", "user_id", userID, "error", err)
		return c.apology(sess.Language), nil
	}
	if !sess.HasProject() {
		return c.offerProjects(ctx, sess, tracker), nil
	}
	return c.showTasks(ctx, sess, tracker), nil
}

func (c *Conversation) offerProjects(ctx context.Context, sess models.Session, tracker TaskTracker) []models.Reply {
	actx, cancel := c.adapterContext(ctx)
	defer cancel()
	projects, err := tracker.ListProjects(actx)
	if err != nil {
		slog.Error("Conversation.offerProjects: ListProjects failed", "user_id", sess.UserID, "error", err)
		return c.apology(sess.Language)
	}

	rows := make([][]models.Button, 0, MaxListedItems+1)
	for _, p := range projects {
		if len(rows) == MaxListedItems {
			break
		}
		payload := PayloadPickProject + p.ID
		if len(payload) > models.MaxButtonPayloadLength {
			slog.Warn("Conversation.offerProjects: project id too long for a button", "user_id", sess.UserID, "project_id", p.ID)
			continue
		}
		rows = append(rows, []models.Button{{Label: truncateLabel(p.Name), Payload: payload}})
	}
	if len(rows) == 0 {
		return []models.Reply{c.text(sess.Language, i18n.NoProjects)}
	}
	rows = append(rows, []models.Button{{
		Label:   c.catalog.Text(sess.Language, i18n.CancelButton),
		Payload: PayloadCancelProject,
	}})
	return []models.Reply{{Text: c.catalog.Text(sess.Language, i18n.PickProject), Buttons: rows}}
}

func (c *Conversation) pickProject(ctx context.Context, userID, projectID string) ([]models.Reply, error) {
	sess, err := c.sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sess.HasToken() {
		return []models.Reply{c.text(sess.Language, i18n.LinkFirst)}, nil
	}
	sess, err = c.sessions.Update(ctx, userID, func(s *models.Session) { s.SelectedProject = projectID })
	if err != nil {
		return nil, err
	}
	slog.Info("Conversation.pickProject: project selected", "user_id", userID, "project_id", projectID)

	tracker, err := c.trackers.NewTracker(sess.LinkedToken)
	if err != nil {
		slog.Error("Conversation.pickProject: failed to create tracker", "user_id", userID, "error", err)
		return c.apology(sess.Language), nil
	}
	return c.showTasks(ctx, sess, tracker), nil
}

func (c *Conversation) showTasks(ctx context.Context, sess models.Session, tracker TaskTracker) []models.Reply {
	actx, cancel := c.adapterContext(ctx)
	defer cancel()
	tasks, err := tracker.ListTasks(actx, sess.SelectedProject)
	if err != nil {
		slog.Error("Conversation.showTasks: ListTasks failed", "user_id", sess.UserID, "project_id", sess.SelectedProject, "error", err)
		return c.apology(sess.Language)
	}
	if len(tasks) == 0 {
		return []models.Reply{c.text(sess.Language, i18n.NoTasks)}
	}
	return []models.Reply{{
		Text:      renderTaskList(c.catalog.Text(sess.Language, i18n.TasksHeader), tasks),
		ParseMode: models.ParseModeHTML,
	}}
}

// renderTaskList renders at most MaxListedItems tasks as HTML bullet lines under a bold header.
func renderTaskList(header string, tasks []models.Task) string {
	if len(tasks) > MaxListedItems {
		tasks = tasks[:MaxListedItems]
	}
	var b strings.Builder
	b.WriteString("<b>")
	b.WriteString(html.EscapeString(header))
	b.WriteString("</b>")
	for _, t := range tasks {
		b.WriteString("\n• ")
		b.WriteString(html.EscapeString(t.Name))
	}
	return b.String()
}

func truncateLabel(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "-"
	}
	if utf8.RuneCountInString(name) <= models.MaxButtonLabelLength {
		return name
	}
	r := []rune(name)
	return string(r[:models.MaxButtonLabelLength-1]) + "…"
}

// recommend asks the generator for advice over the pending tasks, or general tips when
// no tasks are available.
func (c *Conversation) recommend(ctx context.Context, userID string) ([]models.Reply, error) {
	sess, err := c.sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	var tasks []models.Task
	if sess.HasToken() && sess.HasProject() {
		tasks = c.pendingTasks(ctx, sess)
	}

	prompt := generalTipsPrompt(sess.Language)
	if len(tasks) > 0 {
		prompt = recommendPrompt(tasks, sess.Language)
	}
	out, err := c.generate(ctx, prompt)
	if err != nil {
		slog.Error("Conversation.recommend: generation failed", "user_id", userID, "error", err)
		return c.apology(sess.Language), nil
	}
	return []models.Reply{models.TextReply(out)}, nil
}

// pendingTasks returns up to MaxListedItems tasks, or nil on any tracker failure.
func (c *Conversation) pendingTasks(ctx context.Context, sess models.Session) []models.Task {
	tracker, err := c.trackers.NewTracker(sess.LinkedToken)
	if err != nil {
		slog.Warn("Conversation.pendingTasks: failed to create tracker", "user_id", sess.UserID, "error", err)
		return nil
	}
	actx, cancel := c.adapterContext(ctx)
	defer cancel()
	tasks, err := tracker.ListTasks(actx, sess.SelectedProject)
	if err != nil {
		slog.Warn("Conversation.pendingTasks: ListTasks failed, using general tips", "user_id", sess.UserID, "error", err)
		return nil
	}
	if len(tasks) > MaxListedItems {
		tasks = tasks[:MaxListedItems]
	}
	return tasks
}

func (c *Conversation) newTask(ctx context.Context, userID, name string) ([]models.Reply, error) {
	sess, err := c.sessions.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch {
	case !sess.HasToken():
		return []models.Reply{c.text(sess.Language, i18n.LinkFirst)}, nil
	case !sess.HasProject():
		return []models.Reply{c.text(sess.Language, i18n.NewTaskNeedProject)}, nil
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return []models.Reply{c.text(sess.Language, i18n.NewTaskUsage)}, nil
	}

	tracker, err := c.trackers.NewTracker(sess.LinkedToken)
	if err != nil {
		slog.Error("Conversation.newTask: failed to create tracker", "user_id", userID, "error", err)
		return c.apology(sess.Language), nil
	}
	actx, cancel := c.adapterContext(ctx)
	defer cancel()
	task, err := tracker.CreateTask(actx, sess.SelectedProject, name)
	if err != nil {
		slog.Error("Conversation.newTask: CreateTask failed", "user_id", userID, "project_id", sess.SelectedProject, "error", err)
		return c.apology(sess.Language), nil
	}
	if task.Name == "" {
		task.Name = name
	}
	slog.Info("Conversation.newTask: task created", "user_id", userID, "task_id", task.ID)
	return []models.Reply{c.text(sess.Language, i18n.NewTaskCreated, task.Name)}, nil
}
