/*
Package api holds the pieces shared by the blob storage HTTP server and its
clients: the server configuration and the JSON wire types.

# Endpoints

Library viewer (read only):

	GET /api/libraries
	GET /api/libraries/{library_id}/entries?limit=&after=&reverse=
	GET /api/libraries/{library_id}/entries/{entry_id}
	GET /api/libraries/{library_id}/blobs/{blob_id}

Intake:

	POST /api/intake
	GET  /api/intake?state=
	GET  /api/intake/{record_id}

An intake request names its resources either as a list of objects, which
may override the content type reported by the remote server, or in the
legacy form of a plain url list:

	{
	  "library_id": "Colors",
	  "entry_id": "flags",
	  "entry_metadata": {"attributes": {"source": "web"}, "tags": ["flags"]},
	  "conflict_resolution": "ReplaceIfMore",
	  "content": {"urls": ["https://example.com/red.png"]},
	  "resources": [{"url": "https://example.com/green", "content_type": "image/png"}]
	}

Submissions are fire and forget: a declined request still gets 201 with
accepted set to false. Progress is observed through the intake status
endpoint.

The clients subpackage implements a Go client for these endpoints.
*/
package api
