/*
 * Copyright 2025 The vrrctl Authors.
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

package eventqueue

// Kind tags a timed event. Kinds are bitmasks split into two disjoint
// ranges so whole families can be cancelled with one Drop call: control
// events steer the controller state machine, callback events fire
// calculator and lock-protocol timeouts.
type Kind uint32

const (
	// KindControlMask selects every control event.
	KindControlMask Kind = 0x10000000
	// KindCallbackMask selects every callback event.
	KindCallbackMask Kind = 0x20000000
)

const (
	KindRenderingTimeout             = KindControlMask | 1<<0
	KindHibernateTimeout             = KindControlMask | 1<<1
	KindNotifyExpectedPresentHeadsUp = KindControlMask | 1<<2
	KindUpdateFrameRate              = KindControlMask | 1<<3
	KindVendorPresentTimeout         = KindControlMask | 1<<4
	KindMinRateAlignWithPresent      = KindControlMask | 1<<5
	KindMinRateWaitForConfigTimeout  = KindControlMask | 1<<6
)

const (
	KindInstantTimeout     = KindCallbackMask | 1<<0
	KindPeriodMeasure      = KindCallbackMask | 1<<1
	KindExitIdleTimeout    = KindCallbackMask | 1<<2
	KindAodTimeout         = KindCallbackMask | 1<<3
	KindCalculatorUpdate   = KindCallbackMask | 1<<4
	KindMinRateLockTimeout = KindCallbackMask | 1<<5
)

func (k Kind) String() string {
	switch k {
	case KindRenderingTimeout:
		return "rendering_timeout"
	case KindHibernateTimeout:
		return "hibernate_timeout"
	case KindNotifyExpectedPresentHeadsUp:
		return "notify_expected_present_heads_up"
	case KindUpdateFrameRate:
		return "update_frame_rate"
	case KindVendorPresentTimeout:
		return "vendor_present_timeout"
	case KindMinRateAlignWithPresent:
		return "min_rate_align_with_present"
	case KindMinRateWaitForConfigTimeout:
		return "min_rate_wait_for_config_timeout"
	case KindInstantTimeout:
		return "instant_timeout"
	case KindPeriodMeasure:
		return "period_measure"
	case KindExitIdleTimeout:
		return "exit_idle_timeout"
	case KindAodTimeout:
		return "aod_timeout"
	case KindCalculatorUpdate:
		return "calculator_update"
	case KindMinRateLockTimeout:
		return "min_rate_lock_timeout"
	case KindControlMask:
		return "control_mask"
	case KindCallbackMask:
		return "callback_mask"
	default:
		return "unknown"
	}
}
