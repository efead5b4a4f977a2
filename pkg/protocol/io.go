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

package protocol

import (
	"bytes"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// LoadReturnPacket reads and validates a return packet TOML file.
func LoadReturnPacket(path string) (ReturnPacket, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ReturnPacket{}, fmt.Errorf("read return packet: %w", err)
	}
	var raw rawReturnPacket
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return ReturnPacket{}, fmt.Errorf("parse return packet: %w", err)
	}
	rp, err := DecodeReturnPacket(raw)
	if err != nil {
		return ReturnPacket{}, err
	}
	if err := rp.Validate(); err != nil {
		return ReturnPacket{}, err
	}
	return rp, nil
}

// SaveReturnPacket writes a return packet atomically (temp file + rename)
// in canonical lower-case enum form.
func SaveReturnPacket(path string, rp ReturnPacket) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(rp); err != nil {
		return fmt.Errorf("encode return packet: %w", err)
	}
	return atomicWrite(path, buf.Bytes())
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
