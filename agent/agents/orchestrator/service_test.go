package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	contractx "github.com/polarcommerce/return-agent/agent/contract"
	"github.com/polarcommerce/return-agent/agent/conversation"
)

type fakeClassifier struct {
	decision contractx.RoutingDecision
	err      error
	calls    int
}

func (f *fakeClassifier) Classify(ctx context.Context, text string) (contractx.RoutingDecision, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.decision, nil
}

type fakeQueryRunner struct {
	turns []contractx.Turn
	err   error
	calls int
}

func (f *fakeQueryRunner) Run(ctx context.Context, history []contractx.Turn) ([]contractx.Turn, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.turns, nil
}

type fakeSynthesizer struct {
	mu       sync.Mutex
	replies  []contractx.Turn
	err      error
	idx      int
	requests []contractx.SynthesisRequest
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, req contractx.SynthesisRequest) (contractx.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return contractx.Turn{}, f.err
	}
	if f.idx >= len(f.replies) {
		return contractx.AssistantTurn("resposta padrão"), nil
	}
	reply := f.replies[f.idx]
	f.idx++
	return reply, nil
}

type fakeReturns struct {
	result contractx.Turn
	err    error
	calls  int
}

func (f *fakeReturns) Process(ctx context.Context, conv *conversation.Log, action contractx.ActionRequest) (contractx.Turn, error) {
	f.calls++
	if f.err != nil {
		return contractx.Turn{}, f.err
	}
	return f.result, nil
}

type fakeRetriever struct {
	chunks []contractx.Chunk
	calls  int
}

func (f *fakeRetriever) Fetch(ctx context.Context, query string) ([]contractx.Chunk, error) {
	f.calls++
	return f.chunks, nil
}

type deps struct {
	store      *conversation.MemoryStore
	classifier *fakeClassifier
	queries    *fakeQueryRunner
	synth      *fakeSynthesizer
	returns    *fakeReturns
	retriever  *fakeRetriever
}

func newTestOrchestrator(t *testing.T, d deps) (*Orchestrator, deps) {
	t.Helper()
	if d.store == nil {
		d.store = conversation.NewMemoryStore()
	}
	if d.classifier == nil {
		d.classifier = &fakeClassifier{decision: contractx.DecisionNone}
	}
	if d.queries == nil {
		d.queries = &fakeQueryRunner{}
	}
	if d.synth == nil {
		d.synth = &fakeSynthesizer{}
	}
	if d.returns == nil {
		d.returns = &fakeReturns{}
	}
	if d.retriever == nil {
		d.retriever = &fakeRetriever{}
	}

	o, err := New(d.store, d.classifier, d.queries, d.synth, d.returns, d.retriever)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o, d
}

func TestHandleMessageNoneBranch(t *testing.T) {
	t.Parallel()

	o, d := newTestOrchestrator(t, deps{
		classifier: &fakeClassifier{decision: contractx.DecisionNone},
		synth:      &fakeSynthesizer{replies: []contractx.Turn{contractx.AssistantTurn("Oi! Sou o assistente da Polar.")}},
	})

	reply, history, err := o.HandleMessage(context.Background(), "t-1", "quem é você?", nil)
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != "Oi! Sou o assistente da Polar." {
		t.Fatalf("reply = %q", reply)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want user+assistant", len(history))
	}
	if d.queries.calls != 0 || d.retriever.calls != 0 || d.returns.calls != 0 {
		t.Fatalf("side branches ran: queries=%d retriever=%d returns=%d",
			d.queries.calls, d.retriever.calls, d.returns.calls)
	}
}

func TestHandleMessageDataOnlyBranch(t *testing.T) {
	t.Parallel()

	queryTurns := []contractx.Turn{
		contractx.AssistantTurn("", contractx.ActionRequest{
			ID:   "q1",
			Name: contractx.ActionRunQuery,
			Args: map[string]any{"query": "SELECT count(*) FROM orders"},
		}),
		contractx.ToolTurn("q1", "count\n42\n"),
	}
	synth := &fakeSynthesizer{replies: []contractx.Turn{contractx.AssistantTurn("Temos 42 pedidos.")}}

	o, d := newTestOrchestrator(t, deps{
		classifier: &fakeClassifier{decision: contractx.DecisionDataOnly},
		queries:    &fakeQueryRunner{turns: queryTurns},
		synth:      synth,
	})

	reply, history, err := o.HandleMessage(context.Background(), "t-1", "quantos pedidos temos?", nil)
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != "Temos 42 pedidos." {
		t.Fatalf("reply = %q", reply)
	}
	// user, query action, tool result, assistant
	if len(history) != 4 {
		t.Fatalf("len(history) = %d, want 4", len(history))
	}
	if d.retriever.calls != 0 {
		t.Fatalf("retriever ran on data_only branch: %d", d.retriever.calls)
	}
	if len(synth.requests) != 1 || synth.requests[0].PolicyContext != "" {
		t.Fatalf("unexpected synthesis requests: %#v", synth.requests)
	}
}

func TestHandleMessageDocumentOnlyBranch(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{replies: []contractx.Turn{contractx.AssistantTurn("O prazo é de 30 dias.")}}
	o, d := newTestOrchestrator(t, deps{
		classifier: &fakeClassifier{decision: contractx.DecisionDocumentOnly},
		retriever:  &fakeRetriever{chunks: []contractx.Chunk{{Source: "Prazo", Text: "30 dias corridos."}}},
		synth:      synth,
	})

	reply, _, err := o.HandleMessage(context.Background(), "t-1", "qual é a política de devolução?", nil)
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != "O prazo é de 30 dias." {
		t.Fatalf("reply = %q", reply)
	}
	if d.queries.calls != 0 {
		t.Fatalf("query branch ran on document_only: %d", d.queries.calls)
	}
	if len(synth.requests) != 1 || !strings.Contains(synth.requests[0].PolicyContext, "30 dias corridos") {
		t.Fatalf("policy context missing from synthesis: %#v", synth.requests)
	}
}

func TestHandleMessageCombinedBranchRunsBoth(t *testing.T) {
	t.Parallel()

	synth := &fakeSynthesizer{replies: []contractx.Turn{contractx.AssistantTurn("Sim, o pedido é elegível.")}}
	o, d := newTestOrchestrator(t, deps{
		classifier: &fakeClassifier{decision: contractx.DecisionCombined},
		retriever:  &fakeRetriever{chunks: []contractx.Chunk{{Source: "Prazo", Text: "30 dias corridos."}}},
		queries: &fakeQueryRunner{turns: []contractx.Turn{
			contractx.AssistantTurn("", contractx.ActionRequest{
				ID:   "q1",
				Name: contractx.ActionRunQuery,
				Args: map[string]any{"query": "SELECT order_status FROM orders WHERE order_id = 'abc123456'"},
			}),
			contractx.ToolTurn("q1", "order_status\ndelivered\n"),
		}},
		synth: synth,
	})

	_, history, err := o.HandleMessage(context.Background(), "t-1", "o pedido abc123456 é elegível para devolução?", nil)
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if d.retriever.calls != 1 || d.queries.calls != 1 {
		t.Fatalf("combined branch calls: retriever=%d queries=%d, want 1/1", d.retriever.calls, d.queries.calls)
	}
	if len(history) != 4 {
		t.Fatalf("len(history) = %d, want 4", len(history))
	}
	if len(synth.requests) != 1 || !strings.Contains(synth.requests[0].PolicyContext, "30 dias corridos") {
		t.Fatalf("policy context missing on combined branch: %#v", synth.requests)
	}
}

func TestHandleMessageReturnWorkflow(t *testing.T) {
	t.Parallel()

	returnReply := contractx.AssistantTurn("Vou processar a devolução do pedido abc123456.",
		contractx.ActionRequest{
			ID:   "r1",
			Name: contractx.ActionProcessReturn,
			Args: map[string]any{"order_id": "abc123456"},
		})
	synth := &fakeSynthesizer{replies: []contractx.Turn{
		returnReply,
		contractx.AssistantTurn("Pronto! O pedido abc123456 foi devolvido."),
	}}
	returns := &fakeReturns{result: contractx.ToolTurn("r1", "Pedido abc123456 foi marcado como devolvido (returned) com sucesso.")}

	o, d := newTestOrchestrator(t, deps{
		classifier: &fakeClassifier{decision: contractx.DecisionNone},
		synth:      synth,
		returns:    returns,
	})

	reply, history, err := o.HandleMessage(context.Background(), "t-1", "sim, confirmo a devolução do abc123456", nil)
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if reply != "Pronto! O pedido abc123456 foi devolvido." {
		t.Fatalf("reply = %q", reply)
	}
	if d.returns.calls != 1 {
		t.Fatalf("returns.calls = %d, want exactly 1", d.returns.calls)
	}

	// user, action-bearing assistant, tool result, confirmation
	if len(history) != 4 {
		t.Fatalf("len(history) = %d, want 4", len(history))
	}
	if _, ok := history[1].ReturnAction(); !ok {
		t.Fatalf("history[1] does not carry the return action: %#v", history[1])
	}
	if history[2].Role != contractx.RoleTool || history[2].ActionID != "r1" {
		t.Fatalf("history[2] is not the linked tool result: %#v", history[2])
	}

	// second synthesis pass must run without the return tool
	if len(synth.requests) != 2 {
		t.Fatalf("synthesis passes = %d, want 2", len(synth.requests))
	}
	if !synth.requests[0].AllowReturn {
		t.Fatal("first synthesis pass should allow the return tool")
	}
	if synth.requests[1].AllowReturn {
		t.Fatal("confirmation pass must not allow the return tool")
	}
}

func TestHandleMessageClassifierFaultCommitsNothing(t *testing.T) {
	t.Parallel()

	store := conversation.NewMemoryStore()
	o, _ := newTestOrchestrator(t, deps{
		store:      store,
		classifier: &fakeClassifier{err: contractx.ErrClassification},
	})

	_, _, err := o.HandleMessage(context.Background(), "t-1", "quantos pedidos?", nil)
	if !errors.Is(err, contractx.ErrClassification) {
		t.Fatalf("HandleMessage() error = %v, want ErrClassification", err)
	}

	if _, err := store.Load(context.Background(), "t-1"); !errors.Is(err, conversation.ErrThreadNotFound) {
		t.Fatalf("store committed on failed turn: load error = %v", err)
	}
}

func TestHandleMessageSeedUsedOnlyForEmptyThread(t *testing.T) {
	t.Parallel()

	store := conversation.NewMemoryStore()
	synth := &fakeSynthesizer{replies: []contractx.Turn{
		contractx.AssistantTurn("primeira resposta"),
		contractx.AssistantTurn("segunda resposta"),
	}}
	o, _ := newTestOrchestrator(t, deps{store: store, synth: synth})

	seed := []contractx.Turn{
		contractx.UserTurn("mensagem antiga"),
		contractx.AssistantTurn("resposta antiga"),
	}

	_, history, err := o.HandleMessage(context.Background(), "t-1", "olá", seed)
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	// seed(2) + user + assistant
	if len(history) != 4 {
		t.Fatalf("len(history) = %d, want 4 with seed", len(history))
	}

	// store now has a log; a conflicting client seed must be ignored
	_, history, err = o.HandleMessage(context.Background(), "t-1", "mais uma", []contractx.Turn{
		contractx.UserTurn("histórico forjado"),
	})
	if err != nil {
		t.Fatalf("HandleMessage() error = %v", err)
	}
	if len(history) != 6 {
		t.Fatalf("len(history) = %d, want 6 (stored history extended)", len(history))
	}
	for _, turn := range history {
		if turn.Content == "histórico forjado" {
			t.Fatal("client seed overrode stored history")
		}
	}
}

func TestHandleMessageRejectsBlankInput(t *testing.T) {
	t.Parallel()

	o, _ := newTestOrchestrator(t, deps{})

	if _, _, err := o.HandleMessage(context.Background(), "t-1", "   ", nil); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("blank message error = %v, want ErrValidation", err)
	}
	if _, _, err := o.HandleMessage(context.Background(), "  ", "oi", nil); !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("blank thread error = %v, want ErrValidation", err)
	}
}

func TestHandleMessageSerializesPerThread(t *testing.T) {
	t.Parallel()

	store := conversation.NewMemoryStore()
	o, _ := newTestOrchestrator(t, deps{store: store})

	const n = 8
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if _, _, err := o.HandleMessage(context.Background(), "t-1", "olá", nil); err != nil {
				t.Errorf("HandleMessage() error = %v", err)
			}
		}()
	}
	wg.Wait()

	l, err := store.Load(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	// each serialized turn appends exactly user+assistant
	if l.Len() != 2*n {
		t.Fatalf("history length = %d, want %d", l.Len(), 2*n)
	}
	if o.locks.Len() != 0 {
		t.Fatalf("thread lock entries = %d after all turns, want 0", o.locks.Len())
	}
}

func TestNewRequiresAllDependencies(t *testing.T) {
	t.Parallel()

	store := conversation.NewMemoryStore()
	classifier := &fakeClassifier{}
	queries := &fakeQueryRunner{}
	synth := &fakeSynthesizer{}
	returns := &fakeReturns{}
	retriever := &fakeRetriever{}

	if _, err := New(nil, classifier, queries, synth, returns, retriever); err == nil {
		t.Fatal("New() accepted nil store")
	}
	if _, err := New(store, nil, queries, synth, returns, retriever); err == nil {
		t.Fatal("New() accepted nil classifier")
	}
	if _, err := New(store, classifier, nil, synth, returns, retriever); err == nil {
		t.Fatal("New() accepted nil query runner")
	}
	if _, err := New(store, classifier, queries, nil, returns, retriever); err == nil {
		t.Fatal("New() accepted nil synthesizer")
	}
	if _, err := New(store, classifier, queries, synth, nil, retriever); err == nil {
		t.Fatal("New() accepted nil return workflow")
	}
	if _, err := New(store, classifier, queries, synth, returns, nil); err == nil {
		t.Fatal("New() accepted nil retriever")
	}
}
