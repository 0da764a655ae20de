package sftp

// Request methods as reported in sftp.Request.Method by the request server.
//
// Get (OPEN for reading): routed to Fileread, the returned reader is closed when the handle is closed.
// Put (OPEN for writing): routed to Filewrite, the returned writer is closed when the handle is closed.
// List (READDIR): routed to Filelist, the directory entries.
// Stat, Lstat (STAT, LSTAT): routed to Filelist, a single entry.
// Readlink (READLINK): routed to Filelist, the tree has no links.
// Setstat (SETSTAT): routed to Filecmd, accepted and ignored.
// Mkdir (MKDIR): routed to Filecmd, creates a child directory.
// Rename, Rmdir, Remove, Link, Symlink: routed to Filecmd, the tree cannot remove or rename entries.

const (
	MethodGet      = "Get"
	MethodPut      = "Put"
	MethodOpen     = "Open"
	MethodList     = "List"
	MethodStat     = "Stat"
	MethodLstat    = "Lstat"
	MethodReadlink = "Readlink"
	MethodSetstat  = "Setstat"
	MethodMkdir    = "Mkdir"
	MethodRename   = "Rename"
	MethodRmdir    = "Rmdir"
	MethodRemove   = "Remove"
	MethodLink     = "Link"
	MethodSymlink  = "Symlink"
)
