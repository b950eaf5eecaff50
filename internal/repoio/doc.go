// Package repoio provides safe filesystem access to a repository checkout.
//
// All paths returned by this package are POSIX-style and relative to the
// repository root. Every resolved absolute path is checked against the
// real (symlink-free) root and rejected with types.ErrPathTraversal when
// it escapes it.
//
// Remote repositories are shallow-cloned under <workspace>/repos/<slug>,
// where slug is the last URL segment plus the first 8 hex digits of the
// SHA-1 of the URL. Existing clones are reused.
package repoio
