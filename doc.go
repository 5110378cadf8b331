// Package boxconn is the connection core of a Box API client.
//
// It separates three concerns that every Box REST call rides on:
//
// Tokens: a TokenState snapshot (access token, refresh token, refresh time and
// lifetime) owned by exactly one connection. Expiry is always derived from the
// last refresh time, never stored.
//
// Connections: client.Connection hands out a valid access token, refreshing it
// through a pluggable exchange strategy (refresh token, JWT assertion or client
// credentials). Concurrent callers that observe an expired token share a single
// token-endpoint call. The same connection sends requests with retry on 429/5xx
// and one forced refresh on 401.
//
// Collections: the paging package turns marker- or offset-paginated collection
// endpoints into a lazy iterator that can be resumed from a saved marker.
//
// # Basic Usage
//
//	creds := boxconn.ClientCredentials{ClientID: "...", ClientSecret: "..."}
//	conn, err := client.New(creds, boxconn.TokenState{
//	    AccessToken:  accessToken,
//	    RefreshToken: refreshToken,
//	})
//	if err != nil {
//	    return err
//	}
//
//	items := paging.NewIterator(
//	    paging.Collection[Item](conn, client.NewRequest(http.MethodGet, conn.URL("folders/0/items"))),
//	    paging.StartMarker(100),
//	)
//	for item, err := range items.All(ctx) {
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(item.Name)
//	}
//
// # Persistence
//
// Connection.Save produces a compact versioned string that client.Restore reads
// back. The stores packages keep it on disk (fs), in SQL (gorm) or in Cloud
// Datastore (gae). Access tokens minted for service accounts and app users can
// be shared through the memory or redis AccessTokenCache implementations.
//
// # Errors
//
// Callers only see AuthenticationError, TransientRequestError, APIError or
// ConfigurationError (plus context errors); raw transport failures are wrapped.
package boxconn
