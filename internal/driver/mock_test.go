package driver

import (
	"context"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type executedQuery struct {
	Query  string
	Params map[string]interface{}
}

// MockDriver answers queries from Results, keyed by a substring of the
// query text. Unmatched queries return no records.
type MockDriver struct {
	Results    map[string][]*neo4j.Record
	Err        error
	Executed   []executedQuery
	Committed  int
	RolledBack int
}

func (m *MockDriver) answer(query string, params map[string]interface{}) ([]*neo4j.Record, error) {
	m.Executed = append(m.Executed, executedQuery{Query: query, Params: params})
	if m.Err != nil {
		return nil, m.Err
	}
	for key, recs := range m.Results {
		if strings.Contains(query, key) {
			return recs, nil
		}
	}
	return nil, nil
}

func (m *MockDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	recs, err := m.answer(query, params)
	if err != nil {
		return neo4j.EagerResult{}, err
	}
	return neo4j.EagerResult{Records: recs}, nil
}

func (m *MockDriver) ExecuteWrite(ctx context.Context, fn func(tx Tx) error) error {
	if err := fn(mockTx{m}); err != nil {
		m.RolledBack++
		return err
	}
	m.Committed++
	return nil
}

func (m *MockDriver) VerifyConnectivity(ctx context.Context) error { return m.Err }

func (m *MockDriver) Close(ctx context.Context) error { return nil }

func (m *MockDriver) ran(fragment string) []executedQuery {
	var out []executedQuery
	for _, q := range m.Executed {
		if strings.Contains(q.Query, fragment) {
			out = append(out, q)
		}
	}
	return out
}

type mockTx struct {
	m *MockDriver
}

func (t mockTx) Run(ctx context.Context, query string, params map[string]interface{}) ([]*neo4j.Record, error) {
	return t.m.answer(query, params)
}

func record(kv ...interface{}) *neo4j.Record {
	rec := &neo4j.Record{}
	for i := 0; i+1 < len(kv); i += 2 {
		rec.Keys = append(rec.Keys, kv[i].(string))
		rec.Values = append(rec.Values, kv[i+1])
	}
	return rec
}
