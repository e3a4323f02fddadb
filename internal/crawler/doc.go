// Package crawler runs the concurrent exploration of a web application.
//
// A Runner registers the index state and starts one Worker per browser.
// Workers take states from the shared CandidateQueue, and each worker's
// Crawler fires the state's pending actions, registers the resulting DOM in
// the state graph and enqueues the candidates of every new state. The crawl
// ends exactly once, through the ExitNotifier, for one of these reasons:
//
//   - the maximum number of states was reached
//   - the maximum runtime elapsed
//   - no pending action is left and no worker is busy
//   - every worker died
//   - the crawl was stopped
//
// # Usage
//
//	factory := browser.NewFactory(browser.Options{})
//	runner := crawler.NewRunner(factory, crawler.Config{
//		StartURL:        "http://localhost:8080/",
//		Browsers:        2,
//		MaxStates:       50,
//		WaitAfterEvent:  500 * time.Millisecond,
//		WaitAfterReload: 500 * time.Millisecond,
//	})
//	result, err := runner.Run(ctx)
package crawler
