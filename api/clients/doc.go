/*
Package clients implements a Go client for the blob storage HTTP API.

	c := clients.NewClient("http://127.0.0.1:8080", nil)

	libs, err := c.Libraries(ctx)

	for rec, err := range c.AllEntries(ctx, "Colors", 100) {
	    ...
	}

	resp, err := c.Submit(ctx, api.IntakeRequest{
	    LibraryID: "Colors",
	    EntryID:   "flags",
	    Resources: []ingest.Resource{{URL: "https://example.com/red.png"}},
	})

Non-2xx responses are returned as *StatusError. A 400 unwraps to
interfaces.ErrInvalidArgument and a 404 to interfaces.ErrLibraryNotFound. Lookups of a single entry or blob report a
404 as an absent result.
*/
package clients
