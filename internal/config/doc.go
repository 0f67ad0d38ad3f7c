// Package config loads the portal configuration.
//
// Settings come from three layers, each overriding the previous one:
// defaults, portal.json, then PORTAL_* environment variables. The CLI applies
// its flags on top.
//
// # Configuration File Structure
//
//	{
//	  "server": {
//	    "host": "0.0.0.0",
//	    "port": 3000,
//	    "secureCookies": true,
//	    "allowedOrigins": ["https://portal.example.com"]
//	  },
//	  "backend": {
//	    "url": "http://localhost:8080/api",
//	    "timeout": "30s",
//	    "validateTimeout": "10s"
//	  },
//	  "storage": {
//	    "driver": "redis",
//	    "redisAddr": "localhost:6379",
//	    "ttl": "168h"
//	  },
//	  "tabs": {
//	    "max": 10000,
//	    "cookie": "portal_tab"
//	  },
//	  "routes": {
//	    "extra": [
//	      {"path": "/user/profile", "title": "Profile"}
//	    ]
//	  },
//	  "log": {
//	    "level": "info",
//	    "format": "json"
//	  }
//	}
//
// # Usage
//
//	cfg, err := config.Load("portal.json")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
//	    log.Fatal(err)
//	}
package config
