// Package embedder turns chunk texts into dense vectors.
//
// A Client wraps one Provider (gemini through genai, any OpenAI-compatible
// HTTP endpoint, or the offline feature-hashing provider) and adds the
// contract callers rely on:
//
//   - output order matches input order
//   - blank texts are rejected with types.ErrEmptyText
//   - each text is cut to MaxTextChars at a whitespace boundary
//   - texts are sent in batches of 4 to 8, smaller for longer texts
//   - 429 and 5xx failures are retried up to 5 times with exponential
//     backoff and jitter; anything else fails at once
//   - vectors are cached by (model, dim, sha256(text))
//
// # Usage
//
//	client, err := embedder.New(ctx, embedder.Config{Provider: "gemini", Project: "my-proj"})
//	if errors.Is(err, types.ErrNotConfigured) {
//	    // fall back to lexical search
//	}
//	vecs, err := client.EmbedTexts(ctx, texts, 768)
//
// # Errors
//
// Exhausted retries wrap types.ErrEmbeddingTransient. Non-retryable
// provider failures wrap types.ErrEmbeddingFatal. Dimensions outside
// 1..768 fail with types.ErrInvalidDimension before any call is made.
package embedder
