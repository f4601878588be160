package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/glidepush/glidepush/pkg/platform"
)

func planItem(t *testing.T, name string, needs ...string) PlanItem {
	t.Helper()
	return PlanItem{
		Request: testRequest(t, platform.KindWidget, name, ModeImmediate),
		Needs:   needs,
	}
}

func TestPlanBuilder_Build_LinearChain(t *testing.T) {
	plan, err := NewPlanBuilder().Build([]PlanItem{
		planItem(t, "c", "b"),
		planItem(t, "a"),
		planItem(t, "b", "a"),
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := []string{"a", "b", "c"}
	if !reflect.DeepEqual(plan.Order(), want) {
		t.Errorf("Expected order %v, got %v", want, plan.Order())
	}
	if plan.Size() != 3 {
		t.Errorf("Expected size 3, got %d", plan.Size())
	}

	item, ok := plan.Item("b")
	if !ok {
		t.Fatal("Expected item b")
	}
	if !reflect.DeepEqual(item.Needs, []string{"a"}) {
		t.Errorf("Expected b to need a, got %v", item.Needs)
	}
}

func TestPlanBuilder_Build_LevelsGroupIndependentItems(t *testing.T) {
	plan, err := NewPlanBuilder().Build([]PlanItem{
		planItem(t, "base"),
		planItem(t, "left", "base"),
		planItem(t, "right", "base"),
		planItem(t, "top", "left", "right"),
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	want := [][]string{{"base"}, {"left", "right"}, {"top"}}
	if !reflect.DeepEqual(plan.Levels(), want) {
		t.Errorf("Expected levels %v, got %v", want, plan.Levels())
	}
}

func TestPlanBuilder_Build_CycleDetected(t *testing.T) {
	_, err := NewPlanBuilder().Build([]PlanItem{
		planItem(t, "a", "c"),
		planItem(t, "b", "a"),
		planItem(t, "c", "b"),
	})
	if err == nil {
		t.Fatal("Expected cycle error")
	}
	if !strings.Contains(err.Error(), "dependency cycle") {
		t.Errorf("Expected cycle in message, got: %v", err)
	}
	if !strings.Contains(err.Error(), " -> ") {
		t.Errorf("Expected rendered cycle path, got: %v", err)
	}
}

func TestPlanBuilder_Build_Validation(t *testing.T) {
	tests := []struct {
		name    string
		items   func(t *testing.T) []PlanItem
		wantMsg string
	}{
		{
			name:    "empty plan",
			items:   func(t *testing.T) []PlanItem { return nil },
			wantMsg: "empty",
		},
		{
			name: "nil request",
			items: func(t *testing.T) []PlanItem {
				return []PlanItem{{Needs: []string{"a"}}}
			},
			wantMsg: "without a request",
		},
		{
			name: "unknown need",
			items: func(t *testing.T) []PlanItem {
				return []PlanItem{planItem(t, "a", "missing")}
			},
			wantMsg: "unknown artifact",
		},
		{
			name: "duplicate name",
			items: func(t *testing.T) []PlanItem {
				return []PlanItem{planItem(t, "a"), planItem(t, "a")}
			},
			wantMsg: "duplicate",
		},
		{
			name: "self dependency",
			items: func(t *testing.T) []PlanItem {
				return []PlanItem{planItem(t, "a", "a")}
			},
			wantMsg: "needs itself",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlanBuilder().Build(tt.items(t))
			if err == nil {
				t.Fatal("Expected error")
			}
			if !IsValidation(err) {
				t.Errorf("Expected validation error, got: %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Expected %q in message, got: %v", tt.wantMsg, err)
			}
		})
	}
}

func TestPlan_DOT(t *testing.T) {
	plan, err := NewPlanBuilder().Build([]PlanItem{
		planItem(t, "a"),
		planItem(t, "b", "a"),
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	dot := plan.DOT()
	if !strings.HasPrefix(dot, "digraph deployment_plan {") {
		t.Errorf("Expected digraph header, got: %s", dot)
	}
	if !strings.Contains(dot, `"a" -> "b";`) {
		t.Errorf("Expected dependency edge, got: %s", dot)
	}
	if !strings.Contains(dot, "widget") {
		t.Errorf("Expected kind labels, got: %s", dot)
	}
}

// planOrchestrator wires an orchestrator whose single strategy succeeds
// for every artifact except those named in failing.
func planOrchestrator(t *testing.T, failing map[string]bool) *Orchestrator {
	t.Helper()
	fc := &fakeClient{
		query: func(table, query string, limit int) ([]platform.Record, error) {
			if table == "sp_widget" && strings.HasPrefix(query, "name=") && !strings.Contains(query, "^") {
				name := strings.TrimPrefix(query, "name=")
				if failing[name] {
					return nil, nil
				}
				return []platform.Record{{"sys_id": "ID_" + name, "name": name}}, nil
			}
			return nil, nil
		},
	}
	strategy := &fakeStrategy{
		name:     StrategyDirectCreate,
		eligible: true,
		execute: func(ctx context.Context, req *DeploymentRequest) (*StrategyResult, error) {
			if failing[req.Name] {
				return nil, &platform.APIError{StatusCode: http.StatusInternalServerError, Method: "POST", Path: "/x"}
			}
			return &StrategyResult{
				Raw:        json.RawMessage(fmt.Sprintf(`{"result":{"sys_id":"ID_%s"}}`, req.Name)),
				StatusCode: http.StatusCreated,
			}, nil
		},
	}
	return testOrchestrator(t, Options{Client: fc, Strategies: []Strategy{strategy}})
}

func TestOrchestrator_DeployPlan_AllSucceed(t *testing.T) {
	o := planOrchestrator(t, nil)
	plan, err := NewPlanBuilder().Build([]PlanItem{
		planItem(t, "header"),
		planItem(t, "board", "header"),
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	result, err := o.DeployPlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if !result.Success {
		t.Fatal("Expected plan success")
	}
	if len(result.Results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(result.Results))
	}
	if result.Results[0].Name != "header" || result.Results[1].Name != "board" {
		t.Errorf("Expected dependency order, got %v", []string{result.Results[0].Name, result.Results[1].Name})
	}
	for _, item := range result.Results {
		if item.Outcome == nil || !item.Outcome.Success {
			t.Errorf("Expected verified outcome for %s", item.Name)
		}
		if item.Skipped {
			t.Errorf("Expected %s to run", item.Name)
		}
	}
	if result.Duration <= 0 {
		t.Error("Expected positive duration")
	}
}

func TestOrchestrator_DeployPlan_DependencyFailureSkipsDependents(t *testing.T) {
	o := planOrchestrator(t, map[string]bool{"base": true})
	plan, err := NewPlanBuilder().Build([]PlanItem{
		planItem(t, "base"),
		planItem(t, "board", "base"),
		planItem(t, "standalone"),
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	result, err := o.DeployPlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if result.Success {
		t.Fatal("Expected plan failure")
	}

	byName := make(map[string]PlanItemResult, len(result.Results))
	for _, item := range result.Results {
		byName[item.Name] = item
	}

	base := byName["base"]
	if base.Skipped || base.Outcome == nil || base.Outcome.Success {
		t.Errorf("Expected base to run and fail, got %+v", base)
	}

	board := byName["board"]
	if !board.Skipped {
		t.Fatal("Expected board skipped")
	}
	if board.Error == nil || board.Error.Code != ErrCodeDependencyFailed {
		t.Errorf("Expected DEPENDENCY_FAILED, got %+v", board.Error)
	}
	if !strings.Contains(board.Error.Message, "base") {
		t.Errorf("Expected blocking dependency named, got: %s", board.Error.Message)
	}

	standalone := byName["standalone"]
	if standalone.Skipped || standalone.Outcome == nil || !standalone.Outcome.Success {
		t.Errorf("Expected standalone unaffected, got %+v", standalone)
	}
}

func TestOrchestrator_DeployPlan_SkipsCascade(t *testing.T) {
	o := planOrchestrator(t, map[string]bool{"base": true})
	plan, err := NewPlanBuilder().Build([]PlanItem{
		planItem(t, "base"),
		planItem(t, "mid", "base"),
		planItem(t, "top", "mid"),
	})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	result, err := o.DeployPlan(context.Background(), plan)
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if len(result.Results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(result.Results))
	}
	if !result.Results[1].Skipped || !result.Results[2].Skipped {
		t.Error("Expected the whole downstream chain skipped")
	}
	if result.Results[2].Error == nil || !strings.Contains(result.Results[2].Error.Message, "mid") {
		t.Errorf("Expected top blocked by mid, got %+v", result.Results[2].Error)
	}
}

func TestOrchestrator_DeployPlan_ContextCancelled(t *testing.T) {
	fc := &fakeClient{}
	strategy := &fakeStrategy{
		name:     StrategyDirectCreate,
		eligible: true,
		execute: func(ctx context.Context, req *DeploymentRequest) (*StrategyResult, error) {
			return &StrategyResult{Raw: json.RawMessage(`{"result":{"sys_id":"X"}}`), StatusCode: http.StatusCreated}, nil
		},
	}
	logger := testLogger(t)
	o := testOrchestrator(t, Options{
		Client:     fc,
		Strategies: []Strategy{strategy},
		Logger:     logger,
		Verifier:   NewVerifier(fc, VerifierConfig{MaxAttempts: 5, BaseDelay: time.Second}, logger),
	})
	plan, err := NewPlanBuilder().Build([]PlanItem{planItem(t, "w")})
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err = o.DeployPlan(ctx, plan)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got: %v", err)
	}
}
