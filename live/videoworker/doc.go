package videoworker

/*
	This package contains the capture side of recording
	* Launching / supervising ffmpeg and classifying its exit: capture.go
	* Keeping ffmpeg's diagnostic output: diagnostic.go
	* Calling plugins: plugin_manager.go
*/
