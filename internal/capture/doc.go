// Package capture turns a URL into a durable artifact by trying an ordered
// chain of strategies. PDF strategies range from a full browser print to a
// text-only reflow; JSON strategies produce a PageRecord from either the
// rendered DOM or the raw HTML.
package capture
