/*
 Licensed to the Apache Software Foundation (ASF) under one
 or more contributor license agreements.  See the NOTICE file
 distributed with this work for additional information
 regarding copyright ownership.  The ASF licenses this file
 to you under the Apache License, Version 2.0 (the
 "License"); you may not use this file except in compliance
 with the License.  You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package fitter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/apache/yunikorn-radb/pkg/common"
	"github.com/apache/yunikorn-radb/pkg/objects"
)

// Quantities in estimates are plain numbers or strings with an SI suffix:
// <quantity> ::= <digits><suffix>
// <suffix>   ::= "" | k | M | G | T | P | E | Ki | Mi | Gi | Ti | Pi | Ei
type Quantity int64

var whitespace = regexp.MustCompile(`\s+`)
var legal = regexp.MustCompile(`^(?P<Number>[+-]?[0-9]+)(?P<Suffix>[A-Za-z]*)$`)

var multipliers = map[string]int64{
	"":   1,
	"k":  1e3,
	"M":  1e6,
	"G":  1e9,
	"T":  1e12,
	"P":  1e15,
	"E":  1e18,
	"Ki": 1 << 10,
	"Mi": 1 << 20,
	"Gi": 1 << 30,
	"Ti": 1 << 40,
	"Pi": 1 << 50,
	"Ei": 1 << 60,
}

// ParseQuantity converts a user provided value into a quantity.
func ParseQuantity(value string) (Quantity, error) {
	value = whitespace.ReplaceAllLiteralString(value, "")
	parts := legal.FindStringSubmatch(value)
	if len(parts) != 3 {
		return 0, common.NewValidationError("invalid quantity '%s'", value)
	}
	number, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, common.NewValidationError("invalid quantity '%s': overflow", value)
	}
	scale, ok := multipliers[parts[2]]
	if !ok {
		return 0, common.NewValidationError("invalid quantity '%s': unknown suffix", value)
	}
	result := big.NewInt(number)
	result.Mul(result, big.NewInt(scale))
	if !result.IsInt64() {
		return 0, common.NewValidationError("invalid quantity '%s': overflow", value)
	}
	return Quantity(result.Int64()), nil
}

func (q *Quantity) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseQuantity(s)
		if err != nil {
			return err
		}
		*q = parsed
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return common.NewValidationError("invalid quantity %s", string(data))
	}
	*q = Quantity(n)
	return nil
}

// Capacity holds a quantity per resource type.
type Capacity map[objects.ResourceType]Quantity

func (c Capacity) String() string {
	types := c.types()
	parts := make([]string, len(types))
	for i, rt := range types {
		parts[i] = fmt.Sprintf("%s:%d", rt, c[rt])
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// types returns the resource types in enum order.
func (c Capacity) types() []objects.ResourceType {
	types := make([]objects.ResourceType, 0, len(c))
	for rt := range c {
		types = append(types, rt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Clone returns a copy, zero quantities are kept as they still name a needed type.
func (c Capacity) Clone() Capacity {
	out := make(Capacity, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// MultiplyBy returns a copy with every quantity multiplied, except for the types in skip.
func (c Capacity) MultiplyBy(n int, skip ...objects.ResourceType) Capacity {
	out := c.Clone()
outer:
	for k, v := range out {
		for _, s := range skip {
			if k == s {
				continue outer
			}
		}
		out[k] = v * Quantity(n)
	}
	return out
}

// FitIn checks if smaller fits in larger for every type of smaller that is not skipped. Negative
// values in larger are treated as zero, a type missing from larger has no capacity.
func FitIn(larger, smaller Capacity, skip ...objects.ResourceType) bool {
outer:
	for k, v := range smaller {
		for _, s := range skip {
			if k == s {
				continue outer
			}
		}
		largerValue := larger[k]
		if largerValue < 0 {
			largerValue = 0
		}
		if v > largerValue {
			return false
		}
	}
	return true
}
