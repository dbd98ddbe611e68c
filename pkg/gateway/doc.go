// Package gateway provides the README generator's gateway as a library.
//
// # Overview
//
// The gateway is the same-origin backend the dashboard and CLI talk to. It
// passes history listings through from the remote history store, caches
// README content in SQLite, and proxies blob-store downloads for hosts on
// an allowlist.
//
// # Basic Usage
//
// Create a gateway programmatically:
//
//	cfg := &gateway.Config{
//		Server: gateway.ServerConfig{
//			Port:         8080,
//			ReadTimeout:  30 * time.Second,
//			WriteTimeout: 30 * time.Second,
//		},
//		Auth: gateway.AuthConfig{
//			APIKeys: []gateway.APIKey{
//				{Name: "dashboard", Key: "secret-key-here"},
//			},
//		},
//		History: gateway.HistoryConfig{
//			UpstreamURL: "https://history.readmegen.example",
//		},
//		Content: gateway.ContentConfig{
//			CDNBaseURL:  "https://cdn.readmegen.example",
//			LegacyHosts: []string{"d3in1w40kamst9.cloudfront.net"},
//		},
//		Store: gateway.StoreConfig{Path: "data/readme-gateway.db"},
//		Logging: gateway.LoggingConfig{
//			Level:  "info",
//			Format: "json",
//		},
//	}
//
//	gw, err := gateway.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer gw.Close()
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := gw.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//
// # Using with Existing HTTP Server
//
// Integrate the gateway into an existing HTTP server:
//
//	gw, err := gateway.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Mount the gateway under a specific path
//	http.Handle("/readme/", http.StripPrefix("/readme", gw.Handler()))
//
//	http.ListenAndServe(":8080", nil)
//
// # File-based Configuration
//
// Load configuration from YAML plus READMEGEN_* environment variables:
//
//	gw, err := gateway.NewFromFile("configs/gateway.yaml")
//
// # Direct Service Access
//
// Access the service layer directly for programmatic control:
//
//	res, err := gw.Service().ReadmeContent(ctx, "req-123")
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(res.Content)
package gateway
