package contract

import "context"

// Classifier maps the latest user turn to one of the four routing labels.
type Classifier interface {
	Classify(ctx context.Context, text string) (RoutingDecision, error)
}

// Retriever fetches policy text relevant to a query.
type Retriever interface {
	Fetch(ctx context.Context, query string) ([]Chunk, error)
}

// Chunk is one retrieved piece of policy text, in retriever order.
type Chunk struct {
	Source string `json:"source,omitempty"`
	Text   string `json:"text"`
}

// Gateway executes read and write SQL against the order store. Query must
// independently reject any statement that is not a read, regardless of
// what the completion service was instructed to produce.
type Gateway interface {
	ListTables(ctx context.Context) ([]string, error)
	Schema(ctx context.Context, tables []string) (string, error)
	Query(ctx context.Context, sqlText string) (string, error)
	Exists(ctx context.Context, orderID string) (bool, error)
	Status(ctx context.Context, orderID string) (string, error)
	UpdateStatus(ctx context.Context, orderID, status string) error
}

// QueryRunner drives the generate -> check -> execute loop and returns the
// turns it produced, in causal order.
type QueryRunner interface {
	Run(ctx context.Context, history []Turn) ([]Turn, error)
}

// Synthesizer produces the final assistant turn for one cycle. It is the
// single component authorized to request the return action.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (Turn, error)
}
