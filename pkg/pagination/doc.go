// Package pagination drives token-paginated Lightcast endpoints.
//
// A Pager calls a page fetch function with the token returned by the previous
// page until no token is returned, and stops once the configured number of
// records has been handed out. The skills list endpoint answers in a single
// page; the pager still enforces the limit when the server returns more ids
// than were asked for.
//
// Example usage:
//
//	pager := pagination.NewPager(pagination.Config{MaxRecords: 100})
//	n, err := pager.Each(ctx, fetchPage, func(record []byte) error {
//		return emit(record)
//	})
//
// A token seen twice aborts the walk with ErrRepeatedToken.
package pagination
