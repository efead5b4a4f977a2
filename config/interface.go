// Copyright 2025 The CSA Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides the unified configuration surface for csa: tool
// enablement and tier whitelists, sandbox profiles, failover
// policy, slot limits, fork/seed policy, workflow variable
// defaults, and the audit manifest location. It loads through a
// single koanf.Koanf instance composed from defaults, a file, and an
// optional clustered backend (Consul, Etcd, or Zookeeper).
package config

// Interface is implemented by any configuration section that carries its
// own defaults and validation.
type Interface interface {
	// Validate checks the section for internal consistency.
	Validate() error

	// SetDefaults fills in any unset fields with their defaults.
	SetDefaults()
}
