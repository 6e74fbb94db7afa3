package engine

// driverScript is executed by every hosting process this engine starts. It
// speaks a newline-delimited JSON protocol over stdin/stdout: one request
// per execute call, one response per request. User code's own stdout and
// stderr are redirected into in-memory buffers for the duration of the
// exec so they never collide with the control channel.
const driverScript = `
import sys, json, traceback, io

SCOPES = {}

def handle(req):
    token = req.get("scope", "")
    code = req.get("code", "")
    variables = req.get("vars") or {}

    globals_dict = SCOPES.setdefault(token, {"__name__": "__main__"})
    globals_dict.update(variables)

    out_buf, err_buf = io.StringIO(), io.StringIO()
    old_out, old_err = sys.stdout, sys.stderr
    sys.stdout, sys.stderr = out_buf, err_buf
    success, error_message = True, ""
    try:
        exec(compile(code, "<session>", "exec"), globals_dict)
    except BaseException:
        success = False
        error_message = traceback.format_exc()
    finally:
        sys.stdout, sys.stderr = old_out, old_err

    return {
        "success": success,
        "stdout": out_buf.getvalue(),
        "stderr": err_buf.getvalue(),
        "error": error_message,
    }

def main():
    for line in sys.stdin:
        line = line.strip()
        if not line:
            continue
        try:
            req = json.loads(line)
        except Exception as exc:
            sys.stdout.write(json.dumps({"success": False, "stdout": "", "stderr": "", "error": str(exc)}) + "\n")
            sys.stdout.flush()
            continue
        resp = handle(req)
        sys.stdout.write(json.dumps(resp) + "\n")
        sys.stdout.flush()

if __name__ == "__main__":
    main()
`
