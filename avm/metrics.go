package avm

import "github.com/colorfulnotion/avm/metrics"

var (
	metricInvocations = metrics.LazyLoadCounterVec("invocations_count", []string{"status"})
	metricFaults      = metrics.LazyLoadCounterVec("faults_count", []string{"fault"})
	metricGasUsed     = metrics.LazyLoadHistogram("gas_used", metrics.BucketGas)
	metricCallDepth   = metrics.LazyLoadGauge("call_depth")
	metricSyscalls    = metrics.LazyLoadCounterVec("syscalls_count", []string{"syscall"})
	metricTxs         = metrics.LazyLoadCounterVec("transactions_count", []string{"type", "status"})
)
