// Package pagination retrieves every item of a paged Goodreads listing and
// aggregates them into a single export document.
//
// The listing endpoints answer one page at a time:
//
//	<GoodreadsResponse>
//	  <reviews start="1" end="200" total="431">
//	    <review>...</review>
//	    ...
//	  </reviews>
//	</GoodreadsResponse>
//
// The Fetcher requests page 1, 2, 3, ... strictly in order and stops as soon as
// the number of collected items reaches the total declared by the first page.
// Items are kept byte for byte as the server sent them.
//
// Example usage:
//
//	f, err := pagination.NewFetcher(apiClient, pagination.Config{UserID: "1234", Key: key})
//	exporter := pagination.NewExporter(f)
//	doc, err := exporter.ExportXML(ctx)
//
// The resulting document has one <export> root with one child per collection:
//
//	<export>
//	<reviews>
//	<review>...</review>
//	</reviews>
//	</export>
package pagination
