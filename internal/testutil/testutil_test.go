package testutil

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
)

func TestStubGenerator_ScriptedOutputs(t *testing.T) {
	g := NewStubGenerator("a", "b")
	g.Errors[2] = errors.New("boom")
	ctx := context.Background()

	if out, _ := g.Generate(ctx, "p1"); out != "a" {
		t.Errorf("call 1 = %q, want a", out)
	}
	if out, _ := g.Generate(ctx, "p2"); out != "b" {
		t.Errorf("call 2 = %q, want b", out)
	}
	if _, err := g.Generate(ctx, "p3"); err == nil {
		t.Error("call 3 expected error")
	}
	if out, _ := g.Generate(ctx, "p4"); out != "b" {
		t.Errorf("call 4 = %q, want repeated b", out)
	}
	if g.Calls() != 4 || g.Prompts[0] != "p1" {
		t.Errorf("recorded prompts = %v", g.Prompts)
	}
}

func TestStubTracker_CreateThenList(t *testing.T) {
	s := NewStubTracker()
	ctx := context.Background()
	task, err := s.CreateTask(ctx, "p1", "Write report")
	if err != nil {
		t.Fatal(err)
	}
	tasks, _ := s.ListTasks(ctx, "p1")
	if len(tasks) != 1 || tasks[0] != task {
		t.Errorf("ListTasks() = %v", tasks)
	}
	if len(s.ListTasksCalls) != 1 || s.ListTasksCalls[0] != "p1" {
		t.Errorf("ListTasksCalls = %v", s.ListTasksCalls)
	}
}

func TestMakeHelpers(t *testing.T) {
	if p := MakeProjects(3); len(p) != 3 || p[2].ID != "p3" {
		t.Errorf("MakeProjects(3) = %v", p)
	}
	if tk := MakeTasks(2); len(tk) != 2 || tk[1].Name != "Task 2" {
		t.Errorf("MakeTasks(2) = %v", tk)
	}
}

func TestAssertJSONResponse(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.WriteString(`{"status":"ok","result":{"sessions":1}}`)
	resp := AssertJSONResponse(t, rr, "ok")
	if _, ok := resp["result"]; !ok {
		t.Error("result field missing")
	}
}
