// Package config provides configuration types and loading for boxctl.
//
// # Configuration Files
//
//   - HostConfig: daemon settings in ~/.config/boxctl/config.yml
//   - ProjectConfig: per-project settings in <project>/.boxctl/config.yml
//   - ProjectIndex: project name to directory map in <state>/projects.yml
//
// # Host Configuration
//
//	daemon:
//	  socket: /run/user/1000/boxctld/tunnel.sock
//	  heartbeat_timeout: 45s
//	  compression: zstd
//	notifications:
//	  desktop: true
//	  dedup_window: 10s
//	  hook: notify-send-wrapper --app boxctl
//	stall:
//	  threshold: 30s
//	  cooldown: 60s
//
// Missing keys take the values of DefaultHostConfig. LoadHostConfig
// validates after parsing.
//
// # Project Configuration
//
//	project: webapp
//	ports:
//	  expose:
//	    - container_port: 3000
//	      host_port: 3000
//	  forward:
//	    - container_port: 5432
//	      host_port: 5432
//	      bind: 127.0.0.1
//
// Project paths are resolved with securejoin so a crafted name cannot
// escape the project directory.
package config
