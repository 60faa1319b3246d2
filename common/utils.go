/*
 * Copyright 2025-2026 Fat Solutions
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package common

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend"
)

// StringOrNil returns the given string or nil when empty
func StringOrNil(str string) *string {
	if str == "" {
		return nil
	}
	return &str
}

// BigIntOrNil parses the given decimal or 0x-prefixed hex string into a big int, returning nil when unparseable
func BigIntOrNil(str string) *big.Int {
	if str == "" {
		return nil
	}

	if len(str) > 2 && str[0:2] == "0x" {
		val, ok := new(big.Int).SetString(str[2:], 16)
		if !ok {
			return nil
		}
		return val
	}

	val, ok := new(big.Int).SetString(str, 10)
	if !ok {
		return nil
	}
	return val
}

// BigIntString renders the given big int as a decimal string, tolerating nil
func BigIntString(val *big.Int) string {
	if val == nil {
		return ""
	}
	return val.String()
}

// ChainScopeKey returns the canonical partition key for a chain/scope pair
func ChainScopeKey(chainID string, scope *big.Int) string {
	return fmt.Sprintf("%s-%s", chainID, BigIntString(scope))
}

// GnarkCurveIDFactory returns an ecc curve id corresponding to the input name
func GnarkCurveIDFactory(curveID *string) ecc.ID {
	if curveID == nil {
		return ecc.UNKNOWN
	}

	switch strings.ToLower(*curveID) {
	case ecc.BLS12_377.String():
		return ecc.BLS12_377
	case ecc.BLS12_381.String():
		return ecc.BLS12_381
	case ecc.BN254.String():
		return ecc.BN254
	case ecc.BW6_761.String():
		return ecc.BW6_761
	case ecc.BLS24_315.String():
		return ecc.BLS24_315
	default:
		return ecc.UNKNOWN
	}
}

const gnarkProvingSchemeGroth16 = "groth16"
const gnarkProvingSchemePlonk = "plonk"

// GnarkProvingSchemeFactory returns a backend id corresponding to the input name
func GnarkProvingSchemeFactory(provingScheme *string) backend.ID {
	if provingScheme == nil {
		return backend.UNKNOWN
	}

	switch strings.ToLower(*provingScheme) {
	case gnarkProvingSchemeGroth16:
		return backend.GROTH16
	case gnarkProvingSchemePlonk:
		return backend.PLONK
	default:
		return backend.UNKNOWN
	}
}
