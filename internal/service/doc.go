// Package service provides the addon operations behind the addonctl
// commands. Each service takes its collaborators as small interfaces; Build
// wires the real ones from a config.Config.
package service
