// Package config loads experiment definitions from HCL files and translates
// them into a validated, format-agnostic model. An experiment names the
// designs to build (FloPoCo-generated operators or pre-existing RTL) and the
// sweep axes (PDKs, clock periods, placement densities) to drive them
// through the physical-design flow.
package config
