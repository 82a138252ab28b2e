package store

import "encoding/json"

// embedding columns are stored as JSONB rather than a native Postgres
// array type: pgx v5 has no zero-config scan target for float32 arrays,
// and a hand-rolled array-literal codec would be more fragile than letting
// encoding/json do it. This is the only place Store touches embeddings as
// bytes; every other method works with []float32 directly.
func encodeEmbedding(v []float32) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeEmbedding(raw []byte) ([]float32, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v []float32
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}
