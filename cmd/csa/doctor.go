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

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/csa-project/csa/pkg/executor"
	"github.com/csa-project/csa/pkg/sandbox"
)

// DoctorCmd reports environment diagnostics: state-root writability,
// sandbox capability, and which tool binaries are actually installed.
type DoctorCmd struct {
	Output string `help:"Output format." enum:"text,json" default:"text"`
}

type doctorCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

func (c *DoctorCmd) Run(cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	var checks []doctorCheck

	stateRoot := a.cfg.Global.StateRoot
	probe := filepath.Join(stateRoot, ".doctor-probe")
	if werr := os.WriteFile(probe, []byte("ok"), 0o644); werr != nil {
		checks = append(checks, doctorCheck{Name: "state root writable", OK: false, Detail: werr.Error()})
	} else {
		os.Remove(probe)
		checks = append(checks, doctorCheck{Name: "state root writable", OK: true, Detail: stateRoot})
	}

	mode := sandbox.DetectMode()
	checks = append(checks, doctorCheck{
		Name:   "sandbox capability",
		OK:     mode != sandbox.ModeNone,
		Detail: string(mode),
	})

	if _, lerr := exec.LookPath("systemd-run"); lerr == nil {
		checks = append(checks, doctorCheck{Name: "systemd-run present", OK: true})
	} else {
		checks = append(checks, doctorCheck{Name: "systemd-run present", OK: false, Detail: "rlimit fallback will be used"})
	}

	for tool, program := range executor.ProgramNames {
		if _, lerr := exec.LookPath(program); lerr == nil {
			checks = append(checks, doctorCheck{Name: "tool binary: " + tool, OK: true, Detail: program})
		} else {
			enabled := false
			if tc, ok := a.cfg.Tools[tool]; ok {
				enabled = tc.Enabled
			}
			detail := program + " not in PATH"
			if enabled {
				detail += " (tool is enabled; runs will fail)"
			}
			checks = append(checks, doctorCheck{Name: "tool binary: " + tool, OK: false, Detail: detail})
		}
	}

	if verr := a.cfg.Validate(); verr == nil {
		checks = append(checks, doctorCheck{Name: "configuration valid", OK: true})
	} else {
		checks = append(checks, doctorCheck{Name: "configuration valid", OK: false, Detail: verr.Error()})
	}

	if c.Output == "json" {
		data, err := json.MarshalIndent(checks, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	failed := 0
	for _, check := range checks {
		mark := "ok"
		if !check.OK {
			mark = "FAIL"
			failed++
		}
		if check.Detail != "" {
			fmt.Printf("[%4s] %-24s %s\n", mark, check.Name, check.Detail)
		} else {
			fmt.Printf("[%4s] %s\n", mark, check.Name)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
