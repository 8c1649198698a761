// Package safety checks rendered responses before they reach the user and
// watches scored interactions for drift.
//
// A Monitor combines four detectors:
//
//   - Validator scores text against weighted constitutional principles.
//   - ContentFilter substitutes SafeText for blocked categories and flags
//     warning categories. Operators may extend it with a TOML PatternPack,
//     optionally hot-reloaded while the monitor runs.
//   - HarmDetector classifies harmful and biased content by severity.
//   - AnomalyDetector tracks rolling reward, safety and length windows.
//
// Every finding becomes an Alert that stays active until resolved. Alerts
// are optionally published to "safety.alerts.<severity>".
package safety
